package climbing

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"

	cerrors "cragcoach/internal/errors"
)

// UserID is the canonical user identity: a lower-case UUID string or a
// decimal surrogate key.
type UserID string

func (u UserID) String() string { return string(u) }

// IsNumeric reports whether u is a numeric surrogate key.
func (u UserID) IsNumeric() bool {
	_, err := strconv.ParseUint(string(u), 10, 64)
	return err == nil
}

// NormalizeUserID converts the external representations of a user id
// (opaque UUID token, numeric surrogate as string or integer) to a UserID.
func NormalizeUserID(raw any) (UserID, error) {
	switch v := raw.(type) {
	case UserID:
		return normalizeString(string(v))
	case string:
		return normalizeString(v)
	case uuid.UUID:
		if v == uuid.Nil {
			return "", invalidUserID(raw)
		}
		return UserID(v.String()), nil
	case int:
		return fromInt(int64(v), raw)
	case int32:
		return fromInt(int64(v), raw)
	case int64:
		return fromInt(v, raw)
	case uint:
		return UserID(strconv.FormatUint(uint64(v), 10)), nil
	case uint32:
		return UserID(strconv.FormatUint(uint64(v), 10)), nil
	case uint64:
		return UserID(strconv.FormatUint(v, 10)), nil
	case float64:
		if v < 0 || v != math.Trunc(v) || v > math.MaxInt64 {
			return "", invalidUserID(raw)
		}
		return fromInt(int64(v), raw)
	default:
		return "", invalidUserID(raw)
	}
}

// MustUserID is NormalizeUserID for literals known to be valid.
func MustUserID(raw any) UserID {
	id, err := NormalizeUserID(raw)
	if err != nil {
		panic(err)
	}
	return id
}

func normalizeString(s string) (UserID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", invalidUserID(s)
	}
	if n, err := strconv.ParseUint(s, 10, 64); err == nil {
		return UserID(strconv.FormatUint(n, 10)), nil
	}
	parsed, err := uuid.Parse(s)
	if err != nil || parsed == uuid.Nil {
		return "", invalidUserID(s)
	}
	return UserID(parsed.String()), nil
}

func fromInt(n int64, raw any) (UserID, error) {
	if n < 0 {
		return "", invalidUserID(raw)
	}
	return UserID(strconv.FormatInt(n, 10)), nil
}

func invalidUserID(raw any) error {
	return cerrors.Context("climbing.normalize_user_id", "", fmt.Errorf("%w: %v", cerrors.ErrInvalidUserID, raw))
}
