package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/preslavrachev/apistore/core"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitNotFound     = 1 // A requested record does not exist
	ExitCommandError = 2 // Everything else (bad flags, schema errors, adapter failures)
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps err, choosing the exit code from the store error code.
func WrapExitError(message string, err error) *ExitError {
	code := ExitCommandError
	if core.IsNotFound(err) {
		code = ExitNotFound
	}
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitCommandError
}

// errorCode returns the store error code of err, or a generic code.
func errorCode(err error) string {
	var storeErr *core.Error
	if errors.As(err, &storeErr) {
		return string(storeErr.Code)
	}
	return "COMMAND_ERROR"
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

// CLIResponse is the JSON envelope of every command.
type CLIResponse struct {
	Status string    `json:"status"` // "ok" or "error"
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "ok", Data: data})
	}

	switch v := data.(type) {
	case nil:
		_, err := fmt.Fprintln(f.Writer, "null")
		return err
	case []RecordView:
		for _, record := range v {
			if _, err := fmt.Fprintln(f.Writer, record.String()); err != nil {
				return err
			}
		}
		return nil
	default:
		_, err := fmt.Fprintln(f.Writer, v)
		return err
	}
}

// Error outputs err in the configured format.
func (f *OutputFormatter) Error(err error) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: errorCode(err), Message: err.Error()},
		})
	}
	_, werr := fmt.Fprintf(f.Writer, "Error [%s]: %s\n", errorCode(err), err)
	return werr
}

// RecordView is the printable form of a record.
type RecordView struct {
	Type       string         `json:"type"`
	ID         string         `json:"id"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

func (r RecordView) String() string {
	var b strings.Builder
	b.WriteString(r.Type)
	b.WriteByte(':')
	b.WriteString(r.ID)

	names := make([]string, 0, len(r.Attributes))
	for name := range r.Attributes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, " %s=%v", name, r.Attributes[name])
	}
	return b.String()
}

// IdentifierView is the printable form of relationship linkage.
type IdentifierView struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

func (i IdentifierView) String() string {
	return i.Type + ":" + i.ID
}

// LinkageView holds the linkage of a relationship field.
type LinkageView struct {
	Field string           `json:"field"`
	Data  []IdentifierView `json:"data"`
	Many  bool             `json:"many"`
}

func (l LinkageView) String() string {
	if len(l.Data) == 0 {
		if l.Many {
			return l.Field + ": []"
		}
		return l.Field + ": null"
	}
	refs := make([]string, 0, len(l.Data))
	for _, id := range l.Data {
		refs = append(refs, id.String())
	}
	return l.Field + ": " + strings.Join(refs, " ")
}

// ProcessView describes a queued write.
type ProcessView struct {
	Process *core.Process `json:"process"`
}

func (p ProcessView) String() string {
	return fmt.Sprintf("queued %s %s (process %s)", p.Process.Operation, p.Process.ResourceType, p.Process.ID)
}

// PageView is a page of records plus paging information.
type PageView struct {
	Records    []RecordView `json:"records"`
	Page       int          `json:"page"`
	TotalCount int64        `json:"total_count"`
	HasMore    bool         `json:"has_more"`
}

func (p PageView) String() string {
	lines := make([]string, 0, len(p.Records)+1)
	for _, record := range p.Records {
		lines = append(lines, record.String())
	}
	summary := fmt.Sprintf("(%d of %d)", len(p.Records), p.TotalCount)
	if p.Page > 0 {
		summary += fmt.Sprintf(" page %d", p.Page)
	}
	if p.HasMore {
		summary += " more available"
	}
	return strings.Join(append(lines, summary), "\n")
}
