package handler

import (
	"encoding/json"
	"math"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/surveyforge/surveyforge-backend/internal/domain"
	"github.com/surveyforge/surveyforge-backend/internal/http/response"
)

type formStatsView struct {
	Form                formStatsHeader     `json:"form"`
	TotalResponses      int64               `json:"total_responses"`
	IdentifiedResponses int64               `json:"identified_responses"`
	FirstResponseAt     *time.Time          `json:"first_response_at,omitempty"`
	LastResponseAt      *time.Time          `json:"last_response_at,omitempty"`
	ResponsesPerDay     []dayCount          `json:"responses_per_day"`
	Questions           []questionBreakdown `json:"questions"`
}

type formStatsHeader struct {
	ID     uint              `json:"id"`
	Title  string            `json:"title"`
	Status domain.FormStatus `json:"status"`
}

type dayCount struct {
	Day   string `json:"day"`
	Count int64  `json:"count"`
}

// questionBreakdown aggregates the stored answers for one question.
// AnswerCounts holds per-option frequencies; AverageRating is set only for
// rating and scale questions with at least one numeric answer.
type questionBreakdown struct {
	QuestionID    string           `json:"question_id"`
	Label         string           `json:"label,omitempty"`
	Type          string           `json:"type,omitempty"`
	Answered      int64            `json:"answered"`
	AnswerCounts  map[string]int64 `json:"answer_counts,omitempty"`
	AverageRating *float64         `json:"average_rating,omitempty"`
}

// FormStats returns owner-facing analytics for a form: submission totals,
// per-day volume and per-question answer distributions.
func (h *SurveyHandler) FormStats(w http.ResponseWriter, r *http.Request) {
	form, _, ok := h.ownedForm(w, r)
	if !ok {
		return
	}
	stats, err := h.surveys.ResponseStatsByForm(r.Context(), form.ID)
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "stats aggregation failed", nil)
		return
	}
	responses, err := h.surveys.AllResponsesByForm(r.Context(), form.ID)
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "stats aggregation failed", nil)
		return
	}

	view := formStatsView{
		Form:                formStatsHeader{ID: form.ID, Title: form.Title, Status: form.Status},
		TotalResponses:      stats.TotalResponses,
		IdentifiedResponses: stats.IdentifiedResponses,
		ResponsesPerDay:     responsesPerDay(responses),
		Questions:           summarizeQuestions(form.Questions, responses),
	}
	// AllResponsesByForm orders by created_at ascending.
	if len(responses) > 0 {
		first := responses[0].CreatedAt
		last := responses[len(responses)-1].CreatedAt
		view.FirstResponseAt = &first
		view.LastResponseAt = &last
	}
	response.JSON(w, r, http.StatusOK, view)
}

func responsesPerDay(responses []domain.SurveyResponse) []dayCount {
	byDay := make(map[string]int64)
	for _, resp := range responses {
		byDay[resp.CreatedAt.UTC().Format("2006-01-02")]++
	}
	out := make([]dayCount, 0, len(byDay))
	for day, count := range byDay {
		out = append(out, dayCount{Day: day, Count: count})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day < out[j].Day })
	return out
}

// questionSpec is the subset of the free-form question schema the aggregation
// understands. Label falls back from title to text.
type questionSpec struct {
	ID    any    `json:"id"`
	Title string `json:"title"`
	Text  string `json:"text"`
	Type  string `json:"type"`
}

// summarizeQuestions walks every stored answer blob and builds a per-question
// distribution. Malformed question or answer JSON is skipped rather than
// failing the whole report.
func summarizeQuestions(questionsJSON string, responses []domain.SurveyResponse) []questionBreakdown {
	var specs []questionSpec
	if err := json.Unmarshal([]byte(questionsJSON), &specs); err != nil {
		return nil
	}

	answerSets := make([]map[string]any, 0, len(responses))
	for _, resp := range responses {
		var answers map[string]any
		if err := json.Unmarshal([]byte(resp.Answers), &answers); err != nil {
			continue
		}
		answerSets = append(answerSets, answers)
	}

	out := make([]questionBreakdown, 0, len(specs))
	for _, spec := range specs {
		qid := stringifyAnswer(spec.ID)
		breakdown := questionBreakdown{
			QuestionID: qid,
			Label:      spec.Title,
			Type:       spec.Type,
		}
		if breakdown.Label == "" {
			breakdown.Label = spec.Text
		}

		counts := make(map[string]int64)
		var ratingSum float64
		var ratingN int64
		for _, answers := range answerSets {
			value, present := answers[qid]
			if !present || value == nil {
				continue
			}
			breakdown.Answered++
			// Checkbox-style answers arrive as arrays; count each choice.
			if list, ok := value.([]any); ok {
				for _, item := range list {
					counts[stringifyAnswer(item)]++
				}
				continue
			}
			counts[stringifyAnswer(value)]++
			if n, ok := value.(float64); ok {
				ratingSum += n
				ratingN++
			}
		}
		if len(counts) > 0 {
			breakdown.AnswerCounts = counts
		}
		if (spec.Type == "rating" || spec.Type == "scale") && ratingN > 0 {
			avg := ratingSum / float64(ratingN)
			breakdown.AverageRating = &avg
		}
		out = append(out, breakdown)
	}
	return out
}

// stringifyAnswer renders a decoded JSON value as a distribution key. Whole
// numbers lose their ".0" so numeric and string question ids line up.
func stringifyAnswer(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		if x == math.Trunc(x) && !math.IsInf(x, 0) {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case nil:
		return ""
	default:
		raw, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(raw)
	}
}
