package speech

import (
	"errors"
	"strings"

	speechmodel "github.com/zhouzirui/abby/backend/internal/model/speech"
)

// ErrUnavailable is returned when speech credentials are not configured.
var ErrUnavailable = errors.New("speech unavailable")

// resolveCredentials returns the trimmed app key and access key. AccessKey
// stands in for a missing AccessToken.
func resolveCredentials(cfg *speechmodel.SpeechConfig) (string, string, error) {
	if cfg == nil {
		return "", "", ErrUnavailable
	}

	appID := strings.TrimSpace(cfg.AppID)
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		token = strings.TrimSpace(cfg.AccessKey)
	}

	if appID == "" || token == "" {
		return "", "", ErrUnavailable
	}
	return appID, token, nil
}
