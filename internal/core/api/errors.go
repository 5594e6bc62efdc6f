package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/solatis/pmengine/internal/core/manager"
	"github.com/solatis/pmengine/internal/types"
)

// Status mapping: a successful Response is 200, every other Response is
// 400. Transport failures (bad path parameter, oversized body, journal
// errors) get their own status with a single message.

const parseErrorMessage = "Error when parsing the JSON structure"

func statusFor(resp manager.Response) int {
	if resp.Success {
		return http.StatusOK
	}
	return http.StatusBadRequest
}

func writeResponse(w http.ResponseWriter, resp manager.Response) {
	if resp.Messages == nil {
		resp.Messages = []string{}
	}
	writeJSON(w, statusFor(resp), resp)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, manager.Response{Code: types.CodeFormalError, Messages: []string{msg}})
}

func writeRules(w http.ResponseWriter, status int, rules []types.Rule) {
	if rules == nil {
		rules = []types.Rule{}
	}
	writeJSON(w, status, types.RuleSet{Policies: rules})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeRuleSet accepts JSON, or YAML when the content type says so.
func decodeRuleSet(body []byte, contentType string) (types.RuleSet, error) {
	if strings.Contains(contentType, "yaml") {
		return types.ParseRuleSet(body)
	}
	var rs types.RuleSet
	if err := json.Unmarshal(body, &rs); err != nil {
		return types.RuleSet{}, err
	}
	return rs, nil
}
