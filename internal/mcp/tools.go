package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/bugdedup/internal/detector"
	"github.com/ashita-ai/bugdedup/internal/model"
)

func (s *Server) registerTools() {
	// check_duplicate — read-only "did you mean" preview before filing.
	s.mcpServer.AddTool(
		mcplib.NewTool("check_duplicate",
			mcplib.WithDescription(`Check for existing bugs similar to the one you're about to file.

WHEN TO USE: BEFORE calling submit_bug. Run this first to see whether the
issue has already been reported.

WHAT YOU GET BACK: a list of candidate bugs ranked by hybrid similarity
score (combined vector + metadata score, 0.0-1.0), each with its ID,
status, and classification. A score at or above 0.85 is very likely the
same bug; 0.70-0.85 is a plausible match worth reviewing.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("title",
				mcplib.Description("Short bug title, as you intend to submit it."),
				mcplib.Required(),
			),
			mcplib.WithString("description",
				mcplib.Description("Bug description, as you intend to submit it."),
				mcplib.Required(),
			),
			mcplib.WithString("product",
				mcplib.Description("Product or component the bug affects."),
				mcplib.Required(),
			),
			mcplib.WithString("device",
				mcplib.Description("Optional device or platform the bug was observed on."),
			),
			mcplib.WithString("region",
				mcplib.Description("Optional region/locale the bug was observed in, used for cross-region scoring."),
			),
		),
		s.handleCheckDuplicate,
	)

	// submit_bug — file a bug report through the full detection pipeline.
	s.mcpServer.AddTool(
		mcplib.NewTool("submit_bug",
			mcplib.WithDescription(`File a bug report. Runs quality gating, duplicate detection, and
persistence server-side, exactly like the HTTP submission endpoint.

IMPORTANT: Call check_duplicate first. Filing a known duplicate wastes
review time and may be rejected outright if the match is strong enough.

POSSIBLE OUTCOMES (check the "status" field in the response):
- "Created": a new bug was filed.
- "FlaggedDuplicate": filed, but soft-flagged as a likely duplicate of an
  existing bug.
- "BlockedDuplicate": the submission matched an existing bug above the
  blocking threshold; no new bug was created.
- "LowQuality": the submission failed automated quality checks
  (e.g. missing device, build version or region) and was queued for human
  review instead of being filed directly.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("title", mcplib.Required()),
			mcplib.WithString("description", mcplib.Required()),
			mcplib.WithString("product", mcplib.Required()),
			mcplib.WithString("severity",
				mcplib.Description("One of: critical, major, minor, trivial."),
			),
			mcplib.WithString("environment",
				mcplib.Description("One of: production, staging, development, qa."),
			),
			mcplib.WithString("device"),
			mcplib.WithString("os_version"),
			mcplib.WithString("build_version"),
			mcplib.WithString("region"),
			mcplib.WithString("reporter",
				mcplib.Description("Free-text attribution for who/what is filing this report."),
			),
			mcplib.WithString("expected_result"),
			mcplib.WithString("actual_result"),
			mcplib.WithString("logs"),
		),
		s.handleSubmitBug,
	)
}

func (s *Server) handleCheckDuplicate(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	title := request.GetString("title", "")
	description := request.GetString("description", "")
	product := request.GetString("product", "")
	if title == "" || description == "" || product == "" {
		return errorResult("title, description, and product are required"), nil
	}

	sub := model.Submission{
		Title:       title,
		Description: description,
		Product:     product,
		Device:      request.GetString("device", ""),
		Region:      request.GetString("region", ""),
	}

	vec, err := s.detector.Embedder.Embed(ctx, sub.BuildText())
	if err != nil {
		return errorResult(fmt.Sprintf("embed failed: %v", err)), nil
	}

	candidates, err := s.detector.Similarity.FindSimilar(ctx, sub, vec.Slice(), s.detector.Config.LowThreshold, s.detector.Config.TopK)
	if err != nil {
		return errorResult(fmt.Sprintf("similarity search failed: %v", err)), nil
	}

	resultData, _ := json.MarshalIndent(map[string]any{
		"has_candidates": len(candidates) > 0,
		"candidates":     candidates,
	}, "", "  ")
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{mcplib.TextContent{Type: "text", Text: string(resultData)}},
	}, nil
}

func (s *Server) handleSubmitBug(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	sub := model.Submission{
		Title:          request.GetString("title", ""),
		Description:    request.GetString("description", ""),
		Product:        request.GetString("product", ""),
		Severity:       model.Severity(request.GetString("severity", "")),
		Environment:    model.Environment(request.GetString("environment", "")),
		Device:         request.GetString("device", ""),
		OSVersion:      request.GetString("os_version", ""),
		BuildVersion:   request.GetString("build_version", ""),
		Region:         request.GetString("region", ""),
		Reporter:       request.GetString("reporter", ""),
		ExpectedResult: request.GetString("expected_result", ""),
		ActualResult:   request.GetString("actual_result", ""),
		Logs:           request.GetString("logs", ""),
		Submission:     model.SubmissionContext{IsAutomated: true, ClientVersion: "mcp"},
	}

	if err := model.ValidateSubmission(sub); err != nil {
		return errorResult(fmt.Sprintf("invalid submission: %v", err)), nil
	}

	outcome, err := s.detector.Process(ctx, sub)
	if err != nil {
		return errorResult(fmt.Sprintf("submission failed: %v", err)), nil
	}

	resp := map[string]any{"status": outcome.Kind}
	switch outcome.Kind {
	case detector.OutcomeCreated:
		resp["bug"] = outcome.Bug
	case detector.OutcomeFlaggedDuplicate:
		resp["bug"] = outcome.Bug
		resp["original"] = outcome.Original
		resp["hybrid_score"] = outcome.HybridScore
	case detector.OutcomeBlockedDuplicate:
		resp["original"] = outcome.Original
		resp["hybrid_score"] = outcome.HybridScore
	case detector.OutcomeLowQuality:
		resp["low_quality_entry"] = outcome.LowQualityEntry
	}

	resultData, _ := json.MarshalIndent(resp, "", "  ")
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{mcplib.TextContent{Type: "text", Text: string(resultData)}},
	}, nil
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{mcplib.TextContent{Type: "text", Text: msg}},
		IsError: true,
	}
}
