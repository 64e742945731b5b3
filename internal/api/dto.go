package api

import (
	"mminte/internal/growth"
	"mminte/internal/interaction"
	"mminte/internal/store"
)

type createRunReq struct {
	Pairs [][]string `json:"pairs"`
	Diet  string     `json:"diet"`
}

type growthDTO struct {
	Community  string  `json:"community"`
	SpeciesA   string  `json:"species_a"`
	SpeciesB   string  `json:"species_b"`
	ObjectiveA string  `json:"objective_a,omitempty"`
	ObjectiveB string  `json:"objective_b,omitempty"`
	FullA      float64 `json:"full_a"`
	FullB      float64 `json:"full_b"`
	SoloA      float64 `json:"solo_a"`
	SoloB      float64 `json:"solo_b"`
}

func toGrowthDTO(r growth.Record) growthDTO {
	return growthDTO{
		Community:  r.CommunityID,
		SpeciesA:   r.SpeciesA,
		SpeciesB:   r.SpeciesB,
		ObjectiveA: r.ObjectiveA,
		ObjectiveB: r.ObjectiveB,
		FullA:      r.FullA,
		FullB:      r.FullB,
		SoloA:      r.SoloA,
		SoloB:      r.SoloB,
	}
}

type interactionDTO struct {
	growthDTO
	PercentChangeA float64 `json:"percent_change_a"`
	PercentChangeB float64 `json:"percent_change_b"`
	Type           string  `json:"type"`
}

func toInteractionDTO(r interaction.Record) interactionDTO {
	return interactionDTO{
		growthDTO:      toGrowthDTO(r.Record),
		PercentChangeA: r.PercentChangeA,
		PercentChangeB: r.PercentChangeB,
		Type:           r.Type.String(),
	}
}

type runDTO struct {
	store.Run
	Interactions map[string]int `json:"interactions,omitempty"`
}
