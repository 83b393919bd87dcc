package server

import (
	"encoding/json"
	"net/http"
)

func createResponse(success bool, data any, errorMsg string) ResponseModel {
	return ResponseModel{
		Success: success,
		Data:    data,
		Error:   errorMsg,
	}
}

// SendResponse writes data with a 200 status.
func SendResponse(w http.ResponseWriter, data any) {
	SendResponseWithHeader(w, true, data, "", http.StatusOK, nil)
}

// SendError writes an error envelope. A zero status is sent as 400.
func SendError(w http.ResponseWriter, statusCode int, errorMsg string) {
	SendResponseWithHeader(w, false, nil, errorMsg, statusCode, nil)
}

func SendResponseWithHeader(w http.ResponseWriter, success bool, data any, errorMsg string, statusCode int, payloadHeaders map[string]string) {
	response := createResponse(success, data, errorMsg)
	w.Header().Set("Content-Type", "application/json")
	for key, value := range payloadHeaders {
		w.Header().Set(key, value)
	}

	if statusCode == 0 {
		statusCode = http.StatusOK
		if !success {
			statusCode = http.StatusBadRequest
		}
	}
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, `{"success":false,"error":"Internal Server Error"}`, http.StatusInternalServerError)
	}
}
