package server

import (
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"example.com/h3serve/internal/h3"
	"example.com/h3serve/internal/logger"
)

// jsonMarshalFunc allows swapping out json.Marshal for testing.
var jsonMarshalFunc = json.Marshal

// ErrorDetail represents the inner structure of a JSON error response.
type ErrorDetail struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Detail     string `json:"detail,omitempty"`
}

// ErrorResponseJSON represents the full JSON error response body.
type ErrorResponseJSON struct {
	Error ErrorDetail `json:"error"`
}

// defaultHTMLMessages maps HTTP status codes to their default HTML messages.
var defaultHTMLMessages = map[int]struct {
	Title   string
	Heading string
	Message string
}{
	http.StatusNotFound: {
		Title:   "404 Not Found",
		Heading: "Not Found",
		Message: "The requested resource was not found on this server.",
	},
	http.StatusInternalServerError: {
		Title:   "500 Internal Server Error",
		Heading: "Internal Server Error",
		Message: "The server encountered an internal error and was unable to complete your request.",
	},
	http.StatusForbidden: {
		Title:   "403 Forbidden",
		Heading: "Forbidden",
		Message: "You do not have permission to access this resource.",
	},
	http.StatusMethodNotAllowed: {
		Title:   "405 Method Not Allowed",
		Heading: "Method Not Allowed",
		Message: "The method specified in the request is not allowed for the requested resource.",
	},
	http.StatusBadRequest: {
		Title:   "400 Bad Request",
		Heading: "Bad Request",
		Message: "The server cannot or will not process the request due to an apparent client error.",
	},
}

// PrefersJSON checks if the client prefers application/json based on the
// Accept header. Offers with q=0 are ignored; ties are broken by
// specificity, then by position in the header.
func PrefersJSON(acceptHeaderValue string) bool {
	if acceptHeaderValue == "" {
		return false // Default to HTML
	}

	type offer struct {
		mediaType string
		q         float64
		specific  bool
		order     int
	}
	var offers []offer

	rawParts := strings.Split(acceptHeaderValue, ",")
	for i, partStr := range rawParts {
		partStr = strings.TrimSpace(partStr)
		mediaType := partStr
		qValue := 1.0

		if idx := strings.Index(partStr, ";"); idx != -1 {
			mediaType = strings.TrimSpace(partStr[:idx])
			paramsStr := strings.TrimSpace(partStr[idx+1:])
			for _, param := range strings.Split(paramsStr, ";") {
				param = strings.TrimSpace(param)
				if strings.HasPrefix(param, "q=") {
					if q, err := strconv.ParseFloat(param[2:], 64); err == nil && q >= 0 && q <= 1 {
						qValue = q
					} else {
						qValue = 0
					}
					break
				}
			}
		}

		if qValue > 0 {
			offers = append(offers, offer{
				mediaType: strings.ToLower(mediaType),
				q:         qValue,
				specific:  !strings.HasSuffix(mediaType, "/*") && mediaType != "*/*",
				order:     i,
			})
		}
	}

	if len(offers) == 0 {
		return false
	}

	sort.Slice(offers, func(i, j int) bool {
		if offers[i].q != offers[j].q {
			return offers[i].q > offers[j].q
		}
		if offers[i].specific != offers[j].specific {
			return offers[i].specific
		}
		return offers[i].order < offers[j].order
	})

	return offers[0].mediaType == "application/json"
}

// WriteErrorResponse generates and sends a default HTTP error response on
// the given stream. The body format follows the request's Accept header
// (JSON if preferred, HTML otherwise).
func WriteErrorResponse(sw h3.StreamWriter, statusCode int, acceptHeaderValue string, detailMessage string, log *logger.Logger) error {
	statusText := http.StatusText(statusCode)
	if statusText == "" {
		statusText = "Error"
	}

	var body []byte
	var contentType string
	jsonMarshalFailed := false

	shouldSendJSON := PrefersJSON(acceptHeaderValue)

	if shouldSendJSON {
		contentType = "application/json; charset=utf-8"
		errorResp := ErrorResponseJSON{
			Error: ErrorDetail{
				StatusCode: statusCode,
				Message:    statusText,
				Detail:     detailMessage,
			},
		}
		var marshalErr error
		body, marshalErr = jsonMarshalFunc(errorResp)
		if marshalErr != nil {
			if log != nil {
				log.Error("failed to marshal JSON error response, falling back to HTML", logger.LogFields{
					"error":       marshalErr.Error(),
					"status_code": statusCode,
				})
			}
			jsonMarshalFailed = true
		}
	}

	if !shouldSendJSON || jsonMarshalFailed {
		contentType = "text/html; charset=utf-8"
		var finalTitle, finalHeading, baseMessage string
		defaultMsgData, isKnownCode := defaultHTMLMessages[statusCode]

		if isKnownCode {
			finalTitle = defaultMsgData.Title
			finalHeading = defaultMsgData.Heading
			baseMessage = defaultMsgData.Message
		} else {
			finalTitle = fmt.Sprintf("%d %s", statusCode, statusText)
			finalHeading = statusText
			baseMessage = "The server encountered an error processing your request."
		}

		htmlSafeMessageBody := baseMessage
		if detailMessage != "" {
			escapedDetail := html.EscapeString(detailMessage)
			if !isKnownCode {
				htmlSafeMessageBody = escapedDetail
			} else {
				htmlSafeMessageBody = baseMessage + " " + escapedDetail
			}
		}
		body = generateHTMLErrorBody(finalTitle, finalHeading, htmlSafeMessageBody)
	}

	headers := []h3.HeaderField{
		{Name: ":status", Value: strconv.Itoa(statusCode)},
		{Name: "content-type", Value: contentType},
		{Name: "content-length", Value: strconv.Itoa(len(body))},
		{Name: "cache-control", Value: "no-cache, no-store, must-revalidate"},
	}

	if err := sw.SendHeaders(headers, len(body) == 0); err != nil {
		if log != nil {
			log.Error("failed to send error response headers", logger.LogFields{
				"error":       err.Error(),
				"stream_id":   sw.ID(),
				"status_code": statusCode,
			})
		}
		return fmt.Errorf("failed to send error response headers (status %d) for stream %d: %w", statusCode, sw.ID(), err)
	}

	if len(body) > 0 {
		if _, err := sw.WriteData(body, true); err != nil {
			if log != nil {
				log.Error("failed to send error response body", logger.LogFields{
					"error":       err.Error(),
					"stream_id":   sw.ID(),
					"status_code": statusCode,
				})
			}
			return fmt.Errorf("failed to send error response body (status %d) for stream %d: %w", statusCode, sw.ID(), err)
		}
	}
	return nil
}

// SendDefaultErrorResponse generates and sends a default HTTP error response
// using WriteErrorResponse. req can be nil when no request context exists;
// the response then defaults to HTML.
func SendDefaultErrorResponse(sw h3.StreamWriter, statusCode int, req *http.Request, optionalDetail string, log *logger.Logger) {
	accept := ""
	if req != nil {
		accept = req.Header.Get("Accept")
	}
	if err := WriteErrorResponse(sw, statusCode, accept, optionalDetail, log); err != nil {
		if log != nil {
			log.Error("failed to write default error response", logger.LogFields{
				"error":       err.Error(),
				"stream_id":   sw.ID(),
				"status_code": statusCode,
			})
		}
	}
}

func generateHTMLErrorBody(title, heading, message string) []byte {
	titleEsc := html.EscapeString(title)
	headingEsc := html.EscapeString(heading)
	body := fmt.Sprintf(`<html><head><title>%s</title></head><body><h1>%s</h1><p>%s</p></body></html>`, titleEsc, headingEsc, message)
	return []byte(body)
}

// TestingOnlySetJSONMarshal is used by tests to mock json.Marshal behavior.
func TestingOnlySetJSONMarshal(fn func(v interface{}) ([]byte, error)) func(v interface{}) ([]byte, error) {
	original := jsonMarshalFunc
	jsonMarshalFunc = fn
	return original
}

// GetDefaultHTMLMessageInfo is used by tests to access default HTML message
// components.
func GetDefaultHTMLMessageInfo(statusCode int) (info struct {
	Title   string
	Heading string
	Message string
}, found bool) {
	info, found = defaultHTMLMessages[statusCode]
	return
}
