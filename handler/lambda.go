package handler

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
)

// Handle serves POST /chat behind an API Gateway proxy integration.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := correlationIDOrNew(headerValue(event.Headers, headerCorrelationID))
	headers := map[string]string{
		"Content-Type":      "application/json",
		headerCorrelationID: correlationID,
	}
	for k, v := range corsHeaders(headerValue(event.Headers, "Origin")) {
		headers[k] = v
	}

	if event.Path != "" && strings.TrimRight(event.Path, "/") != chatRoute {
		return h.respond(routeUnmatched, http.StatusNotFound, headers, errorResponse{Detail: "not found"}), nil
	}

	if event.HTTPMethod == http.MethodOptions {
		headers["Access-Control-Allow-Methods"] = "GET, POST, PUT, PATCH, DELETE, HEAD, OPTIONS"
		if req := headerValue(event.Headers, "Access-Control-Request-Headers"); req != "" {
			headers["Access-Control-Allow-Headers"] = req
		}
		delete(headers, "Content-Type")
		return h.respond(chatRoute, http.StatusNoContent, headers, nil), nil
	}
	if event.HTTPMethod != "" && event.HTTPMethod != http.MethodPost {
		return h.respond(chatRoute, http.StatusMethodNotAllowed, headers, errorResponse{Detail: "method not allowed"}), nil
	}

	body := []byte(event.Body)
	if event.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(event.Body)
		if err != nil {
			return h.respond(chatRoute, http.StatusBadRequest, headers, errorResponse{Detail: "invalid base64 body"}), nil
		}
		body = decoded
	}
	if len(body) > maxBodyBytes {
		return h.respond(chatRoute, http.StatusRequestEntityTooLarge, headers, errorResponse{Detail: "request body too large"}), nil
	}

	status, payload := h.chat(ctx, body, correlationID)
	return h.respond(chatRoute, status, headers, payload), nil
}

// respond builds the proxy response and records it under a fixed route label.
func (h *Handler) respond(route string, status int, headers map[string]string, payload any) events.APIGatewayProxyResponse {
	if h.observer != nil {
		h.observer.ObserveRequest(route, status)
	}
	resp := events.APIGatewayProxyResponse{StatusCode: status, Headers: headers}
	if payload != nil {
		resp.Body = string(encodeJSON(payload))
	}
	return resp
}

// corsHeaders mirrors the HTTP server's policy: any origin, credentials on.
func corsHeaders(origin string) map[string]string {
	if origin == "" {
		return map[string]string{"Access-Control-Allow-Origin": "*"}
	}
	return map[string]string{
		"Access-Control-Allow-Origin":      origin,
		"Access-Control-Allow-Credentials": "true",
		"Access-Control-Expose-Headers":    headerCorrelationID,
		"Vary":                             "Origin",
	}
}

// headerValue looks up an API Gateway header case-insensitively.
func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}
