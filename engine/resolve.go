package engine

import "sort"

// Resolution is the conflict-free action set for one checkpoint.
type Resolution struct {
	Closes []Action
	Opens  []Action
	// Conflicts are opens dropped because the same symbol was asked to
	// go both long and short.
	Conflicts []Action
}

type actionKey struct {
	symbol string
	typ    ActionType
}

// Resolve keeps one action per (symbol, type), the one with the largest
// percent, and splits the result into closes and opens sorted by
// symbol. Ties keep the first action seen after a stable sort by symbol.
func Resolve(actions []Action) Resolution {
	sorted := make([]Action, len(actions))
	copy(sorted, actions)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Symbol < sorted[j].Symbol })

	best := map[actionKey]int{}
	var uniq []Action
	for _, a := range sorted {
		k := actionKey{a.Symbol, a.Type}
		i, ok := best[k]
		if !ok {
			best[k] = len(uniq)
			uniq = append(uniq, a)
			continue
		}
		if a.Percent > uniq[i].Percent {
			uniq[i] = a
		}
	}
	sort.SliceStable(uniq, func(i, j int) bool {
		if uniq[i].Symbol != uniq[j].Symbol {
			return uniq[i].Symbol < uniq[j].Symbol
		}
		return uniq[i].Type < uniq[j].Type
	})

	var r Resolution
	openSides := map[string]int{}
	for _, a := range uniq {
		if a.Type.IsOpen() {
			openSides[a.Symbol]++
		}
	}
	for _, a := range uniq {
		switch {
		case a.Type.IsClose():
			r.Closes = append(r.Closes, a)
		case openSides[a.Symbol] > 1:
			r.Conflicts = append(r.Conflicts, a)
		default:
			r.Opens = append(r.Opens, a)
		}
	}
	return r
}
