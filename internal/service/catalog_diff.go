package service

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"pinabook/internal/models"
)

// diffFacility describes every field that differs between before and after,
// one change per entry, in a fixed field order.
func diffFacility(before, after *models.Facility) []string {
	var changes []string
	add := func(field, from, to string) {
		changes = append(changes, fmt.Sprintf("%s changed from %s to %s", field, from, to))
	}

	if before.Name != after.Name {
		add("name", quote(before.Name), quote(after.Name))
	}
	if before.Description != after.Description {
		add("description", quote(before.Description), quote(after.Description))
	}
	if !slices.Equal(before.Amenities, after.Amenities) {
		add("amenities", listOf(before.Amenities), listOf(after.Amenities))
	}
	if !sameTour(before.DayTour, after.DayTour) {
		add("day tour", before.DayTour.String(), after.DayTour.String())
	}
	if !sameTour(before.NightTour, after.NightTour) {
		add("night tour", before.NightTour.String(), after.NightTour.String())
	}
	if !before.ChildEntranceFee.Equal(after.ChildEntranceFee) {
		add("child entrance fee", before.ChildEntranceFee.StringFixed(2), after.ChildEntranceFee.StringFixed(2))
	}
	if !before.AdultEntranceFee.Equal(after.AdultEntranceFee) {
		add("adult entrance fee", before.AdultEntranceFee.StringFixed(2), after.AdultEntranceFee.StringFixed(2))
	}

	beforeKeys, afterKeys := before.ImageKeys(), after.ImageKeys()
	if !slices.Equal(beforeKeys, afterKeys) {
		added := len(missingKeys(afterKeys, beforeKeys))
		removed := len(missingKeys(beforeKeys, afterKeys))
		changes = append(changes, fmt.Sprintf("images changed from %d to %d (%d added, %d removed)",
			len(beforeKeys), len(afterKeys), added, removed))
	}
	return changes
}

func sameTour(a, b models.TourPrice) bool {
	return a.StartTime == b.StartTime && a.Price.Equal(b.Price)
}

func quote(s string) string {
	return `"` + s + `"`
}

func listOf(items []string) string {
	if len(items) == 0 {
		return "[]"
	}
	return "[" + strings.Join(items, ", ") + "]"
}

func sortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
