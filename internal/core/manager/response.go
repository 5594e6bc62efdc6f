// internal/core/manager/response.go
package manager

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/solatis/pmengine/internal/types"
)

// Response is the outcome of a lifecycle operation.
type Response struct {
	Code     types.Code `json:"code"`
	Success  bool       `json:"success"`
	Messages []string   `json:"messages"`
	IDs      []int      `json:"ids,omitempty"`

	// Err classifies the failure for errors.Is; nil on success.
	Err error `json:"-"`
}

// Outcome is the result for one rule of a pushed batch.
type Outcome struct {
	// Index is the position of the rule in the submitted batch.
	Index    int        `json:"index"`
	ID       int        `json:"id"`
	Code     types.Code `json:"code"`
	Messages []string   `json:"messages"`
	Err      error      `json:"-"`
}

// Success reports whether the rule was enforced.
func (o Outcome) Success() bool { return o.Code == types.CodeSuccess }

// PushResult aggregates the outcomes of a pushed batch. The embedded
// Response succeeds only when every rule succeeded; otherwise it carries
// the code and error of the first failing rule in processing order.
type PushResult struct {
	Response
	Outcomes []Outcome `json:"outcomes,omitempty"`
}

func success(msgs ...string) Response {
	return Response{Code: types.CodeSuccess, Success: true, Messages: msgs}
}

func failure(code types.Code, err error, msgs ...string) Response {
	if len(msgs) == 0 && err != nil {
		msgs = []string{err.Error()}
	}
	return Response{Code: code, Messages: msgs, Err: err}
}

func notFound(id int) Response {
	return failure(types.CodeFormalError,
		fmt.Errorf("%w: id %d", types.ErrNotFound, id),
		fmt.Sprintf("No Policy with ID %d", id))
}

// formatIDs renders ids the way messages list them: "1, 2, 3".
func formatIDs(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ", ")
}
