package main

import (
	"context"
	"errors"
	"net"
	"net/http"

	"duesync/internal/api"
	"duesync/internal/asana"
)

func formatCLIError(err error) []string {
	if err == nil {
		return nil
	}

	lines := []string{err.Error()}

	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case "unauthorized", "forbidden":
			lines = append(lines, "hint: pass --admin-token or set DUESYNC_ADMIN_TOKEN to the token matching admin.token_hash.")
		}
		if apiErr.Code == "" {
			lines = append(lines, "hint: verify --remote points to a duesync server.")
		}
		if apiErr.Status >= 500 {
			lines = append(lines, "hint: server returned an internal error; check server logs for details.")
		}
		return uniqueLines(lines)
	}

	var reqErr *asana.RequestError
	if errors.As(err, &reqErr) {
		switch reqErr.Status {
		case http.StatusUnauthorized:
			lines = append(lines, "hint: verify asana.token (or ASANA_API_KEY) is a valid personal access token.")
		case http.StatusForbidden:
			lines = append(lines, "hint: the token's user lacks access to this resource.")
		case http.StatusNotFound:
			lines = append(lines, "hint: check the gid; the resource does not exist or is not visible to the token.")
		}
		return uniqueLines(lines)
	}

	if errors.Is(err, asana.ErrRateLimited) {
		lines = append(lines, "hint: the task service is rate limiting this token; retry in a minute.")
		return uniqueLines(lines)
	}
	if errors.Is(err, asana.ErrTransient) {
		lines = append(lines, "hint: the task service is unavailable; retry later or raise retry.transient_retries.")
		return uniqueLines(lines)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		lines = append(lines, "hint: request timed out; check connectivity or increase asana.http_timeout.")
		return uniqueLines(lines)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		lines = append(lines,
			"hint: check network access to asana.api_url or the --remote server.",
			"hint: start a local server with: duesync serve",
		)
		return uniqueLines(lines)
	}

	return uniqueLines(lines)
}

func uniqueLines(lines []string) []string {
	seen := make(map[string]struct{}, len(lines))
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		if _, ok := seen[line]; ok {
			continue
		}
		seen[line] = struct{}{}
		out = append(out, line)
	}
	return out
}
