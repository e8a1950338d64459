package api

import (
	"errors"
	"net/http"

	"github.com/taptoon/taptoon-fe/internal/chaterr"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// toStatus maps a core error onto a gRPC status, keeping its message.
func toStatus(op string, err error) error {
	if err == nil {
		return nil
	}
	return grpcstatus.Errorf(codeOf(err), "%s: %v", op, err)
}

func codeOf(err error) codes.Code {
	var (
		authErr  *chaterr.AuthRequiredError
		valErr   *chaterr.ValidationError
		apiErr   *chaterr.APIError
		transErr *chaterr.TransportError
		decErr   *chaterr.DecodeError
	)
	switch {
	case errors.As(err, &authErr):
		return codes.Unauthenticated
	case errors.As(err, &valErr):
		return codes.InvalidArgument
	case errors.As(err, &apiErr):
		switch apiErr.Status {
		case http.StatusNotFound:
			return codes.NotFound
		case http.StatusBadRequest, http.StatusUnprocessableEntity:
			return codes.InvalidArgument
		case http.StatusConflict:
			return codes.AlreadyExists
		}
		return codes.FailedPrecondition
	case errors.As(err, &transErr):
		return codes.Unavailable
	case errors.As(err, &decErr):
		return codes.DataLoss
	}
	return codes.Internal
}
