package usecase

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/latticehq/lattice/internal/domain"
)

var (
	varPattern  = regexp.MustCompile(`#\{\{(\d+)\}\}`)
	rolePattern = regexp.MustCompile(`@\{\{(LEFT|RIGHT|DOCUMENT)\}\}`)
)

// TemplateService resolves question placeholders and keeps question/variable
// associations in sync.
type TemplateService struct {
	Templates domain.TemplateRepository
}

// NewTemplateService constructs a TemplateService.
func NewTemplateService(t domain.TemplateRepository) TemplateService {
	return TemplateService{Templates: t}
}

// ResolveVariables replaces #{{<id>}} placeholders with the matrix variable
// values. Unknown ids log a warning and are left in place.
func (s TemplateService) ResolveVariables(ctx domain.Context, matrixID int64, text string) (string, error) {
	if !varPattern.MatchString(text) {
		return text, nil
	}
	vars, err := s.Templates.ListMatrixVariables(ctx, matrixID)
	if err != nil {
		return "", fmt.Errorf("op=template.resolve_vars: %w", err)
	}
	byID := make(map[int64]string, len(vars))
	for _, v := range vars {
		byID[v.ID] = v.Value
	}
	return varPattern.ReplaceAllStringFunc(text, func(match string) string {
		id, _ := strconv.ParseInt(varPattern.FindStringSubmatch(match)[1], 10, 64)
		val, ok := byID[id]
		if !ok {
			slog.Warn("template variable not found", slog.Int64("matrix_id", matrixID), slog.Int64("variable_id", id))
			return match
		}
		return val
	}), nil
}

// ResolveRolePlaceholders replaces @{{LEFT}}, @{{RIGHT}} and @{{DOCUMENT}}
// using the cell's refs. A member label wins over the "Document {id}" form.
func ResolveRolePlaceholders(text string, refs []domain.CellEntityRef, members map[int64]domain.EntitySetMember) string {
	if !rolePattern.MatchString(text) {
		return text
	}
	byRole := make(map[domain.EntityRole]string, len(refs))
	for _, r := range refs {
		m, ok := members[r.EntitySetMemberID]
		if !ok {
			continue
		}
		if m.Label != "" {
			byRole[r.Role] = m.Label
		} else {
			byRole[r.Role] = fmt.Sprintf("Document %d", m.EntityID)
		}
	}
	return rolePattern.ReplaceAllStringFunc(text, func(match string) string {
		role := domain.EntityRole(rolePattern.FindStringSubmatch(match)[1])
		if v, ok := byRole[role]; ok {
			return v
		}
		return match
	})
}

// ExtractVariableIDs returns the distinct #{{id}} ids in text, in first-seen
// order.
func ExtractVariableIDs(text string) []int64 {
	seen := make(map[int64]struct{})
	var out []int64
	for _, m := range varPattern.FindAllStringSubmatch(text, -1) {
		id, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// SyncQuestionTemplateVariables diffs the variable ids referenced by the new
// question text against the stored associations: restores soft-deleted ones,
// creates missing ones, and soft-deletes stale ones.
func (s TemplateService) SyncQuestionTemplateVariables(ctx domain.Context, questionID int64, newText string) error {
	wanted := make(map[int64]struct{})
	for _, id := range ExtractVariableIDs(newText) {
		wanted[id] = struct{}{}
	}

	assocs, err := s.Templates.ListQuestionAssociations(ctx, questionID)
	if err != nil {
		return fmt.Errorf("op=template.sync: %w", err)
	}

	have := make(map[int64]domain.QuestionTemplateVariable, len(assocs))
	for _, a := range assocs {
		have[a.TemplateVariableID] = a
	}

	for varID := range wanted {
		a, ok := have[varID]
		switch {
		case !ok:
			if err := s.Templates.CreateQuestionAssociation(ctx, questionID, varID); err != nil {
				return fmt.Errorf("op=template.sync create=%d: %w", varID, err)
			}
		case a.Deleted:
			if err := s.Templates.RestoreQuestionAssociation(ctx, a.ID); err != nil {
				return fmt.Errorf("op=template.sync restore=%d: %w", a.ID, err)
			}
		}
	}
	for varID, a := range have {
		if _, ok := wanted[varID]; !ok && !a.Deleted {
			if err := s.Templates.SoftDeleteQuestionAssociation(ctx, a.ID); err != nil {
				return fmt.Errorf("op=template.sync delete=%d: %w", a.ID, err)
			}
		}
	}
	return nil
}

// stripPlaceholderArtifacts collapses doubled whitespace left behind by
// unresolved placeholders in prompts.
func stripPlaceholderArtifacts(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
