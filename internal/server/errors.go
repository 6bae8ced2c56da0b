package server

import (
	"encoding/json"
	"net/http"

	"antigravity-gateway/internal/gatewayerr"
)

// errDialect selects which of the three client-facing error envelopes
// writeGatewayError renders, per §7.
type errDialect int

const (
	errDialectOpenAI errDialect = iota
	errDialectAnthropic
	errDialectGemini
)

// writeGatewayError renders a *gatewayerr.GatewayError (or any other error,
// wrapped as internal) in the shape the calling dialect expects.
func writeGatewayError(w http.ResponseWriter, dialect errDialect, err error) {
	gerr, ok := err.(*gatewayerr.GatewayError)
	if !ok {
		gerr = gatewayerr.NewInternalError(err.Error())
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(gerr.Status)

	switch dialect {
	case errDialectAnthropic:
		json.NewEncoder(w).Encode(map[string]any{
			"type": "error",
			"error": map[string]any{
				"type":    anthropicErrorType(gerr.Kind),
				"message": gerr.Message,
			},
		})
	case errDialectGemini:
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{
				"code":    gerr.Status,
				"message": gerr.Message,
				"status":  geminiErrorStatus(gerr.Kind),
			},
		})
	default:
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{
				"message": gerr.Message,
				"type":    string(gerr.Kind),
			},
		})
	}
}

func anthropicErrorType(kind gatewayerr.Kind) string {
	switch kind {
	case gatewayerr.KindValidation:
		return "invalid_request_error"
	case gatewayerr.KindAuth:
		return "authentication_error"
	case gatewayerr.KindRateLimit:
		return "rate_limit_error"
	case gatewayerr.KindUpstream:
		return "api_error"
	default:
		return "api_error"
	}
}

func geminiErrorStatus(kind gatewayerr.Kind) string {
	switch kind {
	case gatewayerr.KindValidation:
		return "INVALID_ARGUMENT"
	case gatewayerr.KindAuth:
		return "PERMISSION_DENIED"
	case gatewayerr.KindRateLimit:
		return "RESOURCE_EXHAUSTED"
	default:
		return "INTERNAL"
	}
}
