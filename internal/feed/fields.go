package feed

import (
	"fmt"

	"github.com/example/ride-notifier/internal/models"
)

// WritableStatus extracts and validates the only field clients may write.
// Any other key makes the write invalid.
func WritableStatus(fields Fields) (models.Status, error) {
	if len(fields) == 0 {
		return "", fmt.Errorf("empty write")
	}
	var st models.Status
	for k, v := range fields {
		if k != StatusField {
			return "", fmt.Errorf("field %q is not writable", k)
		}
		switch val := v.(type) {
		case models.Status:
			st = val
		case string:
			st = models.Status(val)
		default:
			return "", fmt.Errorf("status has type %T", v)
		}
	}
	parsed, err := models.ParseStatus(string(st))
	if err != nil {
		return "", err
	}
	return parsed, nil
}
