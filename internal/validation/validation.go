// Package validation provides centralized input validation for procrank.
//
// Every string that reaches the store from a user (shell, procrankctl) is
// parsed here first so malformed input surfaces as a validation error
// instead of a database error.
package validation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/xtxerr/procrank/internal/errors"
)

// =============================================================================
// Time Layouts
// =============================================================================

const (
	// DayLayout is the accepted format for day arguments.
	DayLayout = "2006-01-02"

	// TimestampLayout is the canonical format for flush timestamps.
	TimestampLayout = "2006-01-02 15:04:05"

	// SegmentLayout is the month suffix of a segment table name.
	SegmentLayout = "2006_01"
)

// timestampLayouts lists every accepted timestamp spelling, canonical first.
var timestampLayouts = []string{
	TimestampLayout,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	time.RFC3339,
}

// =============================================================================
// Day / Timestamp / Hour Parsing
// =============================================================================

// ParseDay parses a "YYYY-MM-DD" day in the given location.
func ParseDay(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.NewInvalidValue(errors.ErrInvalidDay, s, "empty day")
	}
	if loc == nil {
		loc = time.Local
	}

	day, err := time.ParseInLocation(DayLayout, s, loc)
	if err != nil {
		return time.Time{}, errors.NewInvalidValue(errors.ErrInvalidDay, s, "expected YYYY-MM-DD")
	}
	return day, nil
}

// ParseTimestamp parses a flush timestamp in the given location.
// Sub-second precision is truncated, matching how reports are stored.
func ParseTimestamp(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.NewInvalidValue(errors.ErrInvalidTimestamp, s, "empty timestamp")
	}
	if loc == nil {
		loc = time.Local
	}

	for _, layout := range timestampLayouts {
		ts, err := time.ParseInLocation(layout, s, loc)
		if err == nil {
			return ts.In(loc).Truncate(time.Second), nil
		}
	}
	return time.Time{}, errors.NewInvalidValue(errors.ErrInvalidTimestamp, s, "expected YYYY-MM-DD HH:MM:SS")
}

// ParseHour parses an optional hour filter. An empty string means "no filter"
// and returns nil.
func ParseHour(s string) (*int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	hour, err := strconv.Atoi(s)
	if err != nil {
		return nil, errors.NewInvalidValue(errors.ErrInvalidHour, s, "not a number")
	}
	if err := ValidateHour(hour); err != nil {
		return nil, err
	}
	return &hour, nil
}

// ValidateHour checks that hour is within 0..23.
func ValidateHour(hour int) error {
	if hour < 0 || hour > 23 {
		return errors.NewInvalidValue(errors.ErrInvalidHour, hour, "must be between 0 and 23")
	}
	return nil
}

// =============================================================================
// Ranges
// =============================================================================

// ValidateDayRange checks that an inclusive day range is ordered.
func ValidateDayRange(start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return fmt.Errorf("day range bounds must be set: %w", errors.ErrInvalidRange)
	}
	if end.Before(start) {
		return fmt.Errorf("end %s is before start %s: %w",
			end.Format(DayLayout), start.Format(DayLayout), errors.ErrInvalidRange)
	}
	return nil
}

// ParseDayRange parses and validates an inclusive "start end" day range.
func ParseDayRange(start, end string, loc *time.Location) (time.Time, time.Time, error) {
	s, err := ParseDay(start, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("start: %w", err)
	}
	e, err := ParseDay(end, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("end: %w", err)
	}
	if err := ValidateDayRange(s, e); err != nil {
		return time.Time{}, time.Time{}, err
	}
	return s, e, nil
}

// =============================================================================
// Segment Names
// =============================================================================

var segmentNamePattern = regexp.MustCompile(`^metrics_[0-9]{4}_[0-9]{2}$`)

// ValidateSegmentName checks that name is a monthly segment table name.
// Segment names are interpolated into SQL, so nothing else may pass.
func ValidateSegmentName(name string) error {
	if !segmentNamePattern.MatchString(name) {
		return fmt.Errorf("segment %q: %w", name, errors.ErrInvalidRange)
	}
	if _, err := time.Parse(SegmentLayout, strings.TrimPrefix(name, "metrics_")); err != nil {
		return fmt.Errorf("segment %q: %w", name, errors.ErrInvalidRange)
	}
	return nil
}

// =============================================================================
// LIKE Patterns
// =============================================================================

var sqlLikeMetaChars = regexp.MustCompile(`[%_\[\]\\]`)

// EscapeLikePattern escapes special characters in a LIKE pattern.
// Use together with ESCAPE '\'.
func EscapeLikePattern(pattern string) string {
	return sqlLikeMetaChars.ReplaceAllStringFunc(pattern, func(s string) string {
		return "\\" + s
	})
}

// SafeLikePrefix creates a safe LIKE prefix pattern.
func SafeLikePrefix(prefix string) string {
	return EscapeLikePattern(prefix) + "%"
}
