package services

import (
	"context"
	"sort"
	"strings"

	"github.com/saeid-a/TherapyCallBack/internal/models"
)

type TherapistFinder interface {
	ListAvailableTherapists(ctx context.Context, categories []string, excluded []int64) ([]models.TherapistProfile, error)
}

type MatchmakingService struct {
	therapistRepo TherapistFinder
}

func NewMatchmakingService(therapistRepo TherapistFinder) *MatchmakingService {
	return &MatchmakingService{therapistRepo: therapistRepo}
}

// MatchTherapists ranks the therapists who may take request. The client and every
// therapist who already rejected it are never offered it again.
func (s *MatchmakingService) MatchTherapists(
	ctx context.Context,
	request *models.SessionRequest,
	limit int,
) ([]models.TherapistWithScore, error) {
	excluded := append([]int64{request.ClientID}, request.RejectedBy...)
	therapists, err := s.therapistRepo.ListAvailableTherapists(ctx, request.Categories, excluded)
	if err != nil {
		return nil, err
	}

	matched := make([]models.TherapistWithScore, 0, len(therapists))
	for _, therapist := range therapists {
		matched = append(matched, models.TherapistWithScore{
			TherapistProfile: therapist,
			MatchScore:       calculateMatchScore(request.Categories, &therapist),
		})
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].MatchScore == matched[j].MatchScore {
			return floatValue(matched[i].Rating) > floatValue(matched[j].Rating)
		}
		return matched[i].MatchScore > matched[j].MatchScore
	})

	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	return matched, nil
}

func calculateMatchScore(categories []string, therapist *models.TherapistProfile) int {
	score := 0
	wanted := categoryAliases(categories)
	offered := normalizeValues(therapist.Categories)

	for _, aliases := range wanted {
		for _, alias := range aliases {
			if _, ok := offered[alias]; ok {
				score += 40
				break
			}
		}
	}

	if floatValue(therapist.Rating) > 4.0 {
		score += 20
	}
	if intValue(therapist.ExperienceYears) > 3 {
		score += 15
	}
	if therapist.VATRegistered {
		score += 5
	}

	return score
}

func categoryAliases(categories []string) map[string][]string {
	mapped := make(map[string][]string, len(categories))
	for _, category := range categories {
		switch normalize(category) {
		case "anxiety", "stress":
			mapped["anxiety"] = []string{"anxiety", "stress", "stress_management"}
		case "depression", "mood":
			mapped["depression"] = []string{"depression", "mood", "mood_disorders"}
		case "relationships", "couples":
			mapped["relationships"] = []string{"relationships", "couples", "family"}
		case "sleep", "insomnia":
			mapped["sleep"] = []string{"sleep", "insomnia"}
		default:
			if key := normalize(category); key != "" {
				mapped[key] = []string{key}
			}
		}
	}

	return mapped
}

func normalizeValues(values []string) map[string]struct{} {
	normalized := make(map[string]struct{})
	for _, value := range values {
		if key := normalize(value); key != "" {
			normalized[key] = struct{}{}
		}
	}
	return normalized
}

func normalize(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	value = strings.ReplaceAll(value, " ", "_")
	value = strings.ReplaceAll(value, "-", "_")
	return value
}

func floatValue(value *float64) float64 {
	if value == nil {
		return 0
	}
	return *value
}

func intValue(value *int) int {
	if value == nil {
		return 0
	}
	return *value
}
