package server

import (
	"antigravity-gateway/internal/dispatcher"
	"antigravity-gateway/internal/gatewayerr"
)

// dispatcherFramerFactory is a local alias so handler files don't each need
// to import streamframer just to name the callback type.
type dispatcherFramerFactory = dispatcher.FramerFactory

func gatewayErrBadRequest(detail string) error {
	return gatewayerr.NewValidationError("malformed request body: " + detail)
}

func gatewayErrEmptyBody() error {
	return gatewayerr.NewValidationError("empty request body")
}

func gatewayErrStreamingUnsupported() error {
	return gatewayerr.NewInternalError("response writer does not support streaming")
}
