package selection

// Merge returns a selection requesting the union of s and others. Fields
// present in several operands have their sub-trees merged recursively.
//
// Full absorbs: if any operand is Full the result is Full. Empty is not an
// absorbing element; Empty.Merge(x) yields a simple selection equal to x.
// Skip-over rules of all operands are carried into the result.
func (s *Selection) Merge(others ...*Selection) (*Selection, error) {
	all := make([]*Selection, 0, len(others)+1)
	all = append(all, s)
	all = append(all, others...)
	for _, o := range all {
		if o.Kind() == KindFull {
			return full, nil
		}
	}
	return mergeSimple(all)
}

// Merge is a convenience for Empty().Merge(selections...).
func Merge(selections ...*Selection) (*Selection, error) {
	return empty.Merge(selections...)
}

func mergeSimple(operands []*Selection) (*Selection, error) {
	out := &Selection{kind: KindSimple, index: map[string]int{}}
	var registries []*SkipOvers
	for _, o := range operands {
		if o.Kind() != KindSimple {
			continue
		}
		if out.typeName == "" {
			out.typeName = o.typeName
		}
		if o.skips != nil {
			registries = append(registries, o.skips)
		}
		for _, f := range o.fields {
			if err := out.add(f); err != nil {
				return nil, err
			}
		}
	}
	out.skips = unionSkipOvers(registries)
	return out, nil
}

func unionSkipOvers(registries []*SkipOvers) *SkipOvers {
	switch len(registries) {
	case 0:
		return nil
	case 1:
		return registries[0]
	}
	first := registries[0]
	same := true
	for _, r := range registries[1:] {
		if r != first {
			same = false
			break
		}
	}
	if same {
		return first
	}
	merged := NewSkipOvers()
	for _, r := range registries {
		for _, rule := range r.Rules() {
			merged.Add(rule)
		}
	}
	return merged
}
