package upload

import (
	"net/http"

	"github.com/qaops/reportpipe/pkg/models"
)

// DefaultSuccessCodes for attachment endpoints. Some targets answer 204;
// callers add it through UploadTarget.SuccessCodes.
var DefaultSuccessCodes = []int{http.StatusOK, http.StatusCreated}

// Classify maps an HTTP status to an outcome class. The policy is a pure
// function so it can be tested independently of the network code:
//   - a code in successCodes is a success;
//   - 401/403/404/413 are conditions backoff cannot fix;
//   - 408/429/500/502/503/504 are transient and worth retrying;
//   - anything else stops the retry loop, with the body surfaced for
//     diagnostics.
func Classify(status int, successCodes []int) models.OutcomeClass {
	if len(successCodes) == 0 {
		successCodes = DefaultSuccessCodes
	}
	for _, code := range successCodes {
		if status == code {
			return models.OutcomeSuccess
		}
	}
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden,
		http.StatusNotFound, http.StatusRequestEntityTooLarge:
		return models.OutcomeFatal
	case http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return models.OutcomeRetryable
	default:
		return models.OutcomeFatal
	}
}
