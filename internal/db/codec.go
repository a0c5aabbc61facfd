package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	tkerrors "github.com/randalmurphal/taskara/internal/errors"
	"github.com/randalmurphal/taskara/internal/task"
)

// column identifies a stored value for DeserializationError reporting.
type column struct {
	kind, id, name string
}

func (c column) fail(cause error) error {
	return tkerrors.Deserialization(c.kind, c.id, c.name, cause)
}

// checkJSON validates raw and its top-level kind before decoding.
func (c column) checkJSON(raw string, wantObject bool) error {
	if !gjson.Valid(raw) {
		return c.fail(fmt.Errorf("invalid JSON"))
	}
	res := gjson.Parse(raw)
	switch {
	case wantObject && !res.IsObject():
		return c.fail(fmt.Errorf("expected JSON object, got %s", res.Type))
	case !wantObject && !res.IsArray():
		return c.fail(fmt.Errorf("expected JSON array, got %s", res.Type))
	}
	return nil
}

func (c column) object(raw string, dst any) error {
	if err := c.checkJSON(raw, true); err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return c.fail(err)
	}
	return nil
}

func (c column) array(raw string, dst any) error {
	if err := c.checkJSON(raw, false); err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return c.fail(err)
	}
	return nil
}

func (c column) metadata(raw string) (task.Metadata, error) {
	if err := c.checkJSON(raw, true); err != nil {
		return nil, err
	}
	m, err := task.DecodeMetadata(raw)
	if err != nil {
		return nil, c.fail(err)
	}
	if len(m) == 0 {
		return nil, nil
	}
	return m, nil
}

func (c column) strings(raw string) ([]string, error) {
	var out []string
	if err := c.array(raw, &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func (c column) labels(raw string) (map[string]string, error) {
	var out map[string]string
	if err := c.object(raw, &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// roleMessage decodes one role/text pair. Role and text must be present
// strings; images, when present, must be an array of strings.
func (c column) roleMessage(raw string) (task.RoleMessage, error) {
	if err := c.checkJSON(raw, true); err != nil {
		return task.RoleMessage{}, err
	}
	if err := checkRoleMessage(gjson.Parse(raw)); err != nil {
		return task.RoleMessage{}, c.fail(err)
	}
	var m task.RoleMessage
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return task.RoleMessage{}, c.fail(err)
	}
	return m, nil
}

func (c column) roleMessages(raw string) ([]task.RoleMessage, error) {
	if err := c.checkJSON(raw, false); err != nil {
		return nil, err
	}
	var shapeErr error
	gjson.Parse(raw).ForEach(func(key, value gjson.Result) bool {
		if err := checkRoleMessage(value); err != nil {
			shapeErr = fmt.Errorf("element %d: %w", key.Int(), err)
			return false
		}
		return true
	})
	if shapeErr != nil {
		return nil, c.fail(shapeErr)
	}
	var out []task.RoleMessage
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, c.fail(err)
	}
	return out, nil
}

func checkRoleMessage(v gjson.Result) error {
	if !v.IsObject() {
		return fmt.Errorf("expected JSON object, got %s", v.Type)
	}
	for _, field := range []string{"role", "text"} {
		if f := v.Get(field); f.Type != gjson.String {
			return fmt.Errorf("%s must be a string, got %s", field, f.Type)
		}
	}
	images := v.Get("images")
	if !images.Exists() || images.Type == gjson.Null {
		return nil
	}
	if !images.IsArray() {
		return fmt.Errorf("images must be an array, got %s", images.Type)
	}
	for _, img := range images.Array() {
		if img.Type != gjson.String {
			return fmt.Errorf("image key must be a string, got %s", img.Type)
		}
	}
	return nil
}

func (c column) timestamp(raw string) (time.Time, error) {
	t, err := task.ParseTime(raw)
	if err != nil {
		return time.Time{}, c.fail(err)
	}
	return t, nil
}

func (c column) nullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := c.timestamp(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (c column) status(raw string) (task.Status, error) {
	st := task.Status(raw)
	if !task.IsValidStatus(st) {
		return "", c.fail(fmt.Errorf("unknown status %q", raw))
	}
	return st, nil
}

// --- write side ---

func encodeStrings(in []string) (string, error) {
	if len(in) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(in)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func encodeLabels(in map[string]string) (string, error) {
	if len(in) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(in)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func encodeJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: task.FormatTime(*t), Valid: true}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
