package llm

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/askdb-inc/askdb-engine/pkg/correction"
	"github.com/askdb-inc/askdb-engine/pkg/models"
)

const generationTemperature = 0.1

const generatorSystemMessage = `You are a PostgreSQL query generator. Given a question and database
context, respond with a single read-only SELECT statement that answers the
question. Respond with SQL only: no explanation, no markdown fences. Never
write statements that modify data or schema.`

// Generator renders generation requests into prompts and parses model output
// into candidate SQL.
type Generator struct {
	client Client
	logger *zap.Logger
}

// NewGenerator creates a Generator over the given completion client.
func NewGenerator(client Client, logger *zap.Logger) *Generator {
	return &Generator{client: client, logger: logger.Named("generator")}
}

// GenerateSQL implements correction.SQLGenerator.
func (g *Generator) GenerateSQL(ctx context.Context, req correction.GenerationRequest) (string, error) {
	prompt := buildPrompt(req)

	raw, err := g.client.Complete(ctx, generatorSystemMessage, prompt, generationTemperature)
	if err != nil {
		return "", fmt.Errorf("generate sql: %w", err)
	}

	sql := stripCodeFences(raw)
	if sql == "" {
		return "", fmt.Errorf("model returned empty response")
	}

	g.logger.Debug("generated candidate sql",
		zap.String("model", g.client.Model()),
		zap.Int("attempt", req.Attempt))
	return sql, nil
}

func buildPrompt(req correction.GenerationRequest) string {
	var b strings.Builder

	b.WriteString("## Database Schema\n\n")
	b.WriteString(req.SchemaMetadata)
	b.WriteString("\n")

	if len(req.Knowledge) > 0 {
		b.WriteString("\n## Context\n\n")
		for _, item := range req.Knowledge {
			b.WriteString(renderKnowledgeItem(item))
			b.WriteString("\n")
		}
	}

	if req.Attempt > 1 {
		b.WriteString("\n## Previous Attempt Failed\n\n")
		b.WriteString("This SQL failed:\n")
		b.WriteString(req.PriorSQL)
		b.WriteString("\n\nError:\n")
		b.WriteString(req.PriorError)
		b.WriteString("\n\nGenerate a corrected query that fixes this error.\n")
	}

	b.WriteString("\n## Question\n\n")
	b.WriteString(req.Question)
	return b.String()
}

// renderKnowledgeItem is the single place knowledge variants become prompt
// text. The switch is exhaustive over models.KnowledgeKind; an unknown kind
// renders as nothing rather than leaking a zero-value line into the prompt.
func renderKnowledgeItem(item models.KnowledgeItem) string {
	switch item.Kind {
	case models.KnowledgeMetric:
		return fmt.Sprintf("Metric %q: %s", item.MetricName, item.MetricDefinition)
	case models.KnowledgeRule:
		return fmt.Sprintf("Rule: %s", item.RuleText)
	case models.KnowledgeVerifiedQuery:
		return fmt.Sprintf("Verified query for %q:\n%s", item.QueryQuestion, item.QuerySQL)
	case models.KnowledgeLearning:
		return fmt.Sprintf("Past correction (confidence %.1f): error %s was fixed by:\n%s",
			item.LearningConfidence, item.LearningError, item.LearningFix)
	default:
		return ""
	}
}

// stripCodeFences removes markdown code fences a model may wrap SQL in.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// Drop a language tag like "sql" on the opening fence line.
	if idx := strings.Index(s, "\n"); idx >= 0 {
		firstLine := strings.TrimSpace(s[:idx])
		if firstLine != "" && !strings.ContainsAny(firstLine, " \t") && len(firstLine) <= 10 {
			s = s[idx+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

var _ correction.SQLGenerator = (*Generator)(nil)
