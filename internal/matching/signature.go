package matching

import (
	"github.com/openshiporg/openship-sub005/internal/model"
)

// Signature is the input multiset of an order: one ref per line item.
func Signature(items []model.LineItem) []model.ItemRef {
	refs := make([]model.ItemRef, 0, len(items))
	for _, li := range items {
		refs = append(refs, li.Ref())
	}
	return refs
}

// SameInputs reports whether a match's input is exactly the given multiset.
// The store query only guarantees each ref appears somewhere in the input;
// this rejects matches like [A, B] for an order of [A, A].
func SameInputs(m *model.Match, refs []model.ItemRef) bool {
	if len(m.Input) != len(refs) {
		return false
	}
	counts := make(map[model.ItemRef]int, len(refs))
	for _, r := range refs {
		counts[r]++
	}
	for _, in := range m.Input {
		k := in.Ref()
		if counts[k] == 0 {
			return false
		}
		counts[k]--
	}
	return true
}
