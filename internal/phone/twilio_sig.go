package phone

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"

	"github.com/labstack/echo/v4"
)

// validateSignature verifies a Twilio webhook signature: HMAC-SHA1 over
// the full URL concatenated with the sorted POST parameters.
func validateSignature(authToken, signature, fullURL string, params map[string]string) bool {
	if authToken == "" || signature == "" {
		return false
	}

	data := fullURL
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		data += k + params[k]
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(data))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}

// authMiddleware rejects webhook requests that do not carry a valid
// Twilio signature and stashes the parsed form params in the context.
func (s *Service) authMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.authToken == "" {
			return c.String(http.StatusInternalServerError, "TWILIO_AUTH_TOKEN not configured")
		}

		bodyBytes, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return c.String(http.StatusBadRequest, "failed to read request body")
		}
		formData, err := url.ParseQuery(string(bodyBytes))
		if err != nil {
			return c.String(http.StatusBadRequest, "failed to parse form data")
		}
		params := make(map[string]string, len(formData))
		for key, values := range formData {
			if len(values) > 0 {
				params[key] = values[0]
			}
		}

		signature := c.Request().Header.Get("X-Twilio-Signature")
		requestURL := fmt.Sprintf("https://%s%s", c.Request().Host, c.Request().URL.Path)
		if !validateSignature(s.authToken, signature, requestURL, params) {
			return c.String(http.StatusUnauthorized, "invalid Twilio signature")
		}

		c.Set("twilioParams", params)
		return next(c)
	}
}

// twilioParams pulls the parsed webhook params out of the context.
func twilioParams(c echo.Context) (map[string]string, bool) {
	params, ok := c.Get("twilioParams").(map[string]string)
	return params, ok
}
