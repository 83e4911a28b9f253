package directory

import (
	"context"
	"fmt"
	"slices"

	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// ContainerFilter matches the containers the planner descends into.
const ContainerFilter = "(|(objectClass=organizationalUnit)(objectClass=container)(objectClass=builtinDomain))"

// Enumerator is the part of Backend and Connection the planner needs.
type Enumerator interface {
	Enumerate(ctx context.Context, req SearchRequest, fn Callback) error
}

// PlanEntry is one unit of work: enumerate DN with Scope.
type PlanEntry struct {
	DN    string
	Scope Scope
}

func (e PlanEntry) String() string {
	return fmt.Sprintf("%s (%s)", e.DN, e.Scope)
}

// PlanOUExploration splits the tree under root into independent entries.
// Containers found in the first depth levels are listed with OneLevel scope
// and those at the final level with Subtree scope. The result is ordered by
// reversed DN. A depth of zero yields a single Subtree entry for root.
func PlanOUExploration(ctx context.Context, e Enumerator, root string, depth int) ([]PlanEntry, error) {
	if depth <= 0 {
		return []PlanEntry{{DN: root, Scope: ScopeSubtree}}, nil
	}

	var plan []PlanEntry
	current := []string{root}

	for level := 0; level < depth && len(current) > 0; level++ {
		var next []string
		for _, dn := range current {
			plan = append(plan, PlanEntry{DN: dn, Scope: ScopeOneLevel})

			children, err := childContainers(ctx, e, dn)
			if err != nil {
				return nil, fmt.Errorf("list containers under %s: %w", dn, err)
			}
			next = append(next, children...)
		}

		tflog.SubsystemDebug(ctx, logSubsystem, "Planned container level", map[string]any{
			"level":      level,
			"containers": len(current),
			"children":   len(next),
		})
		current = next
	}

	for _, dn := range current {
		plan = append(plan, PlanEntry{DN: dn, Scope: ScopeSubtree})
	}

	slices.SortStableFunc(plan, func(a, b PlanEntry) int {
		return CompareReversedDN(a.DN, b.DN)
	})
	return plan, nil
}

func childContainers(ctx context.Context, e Enumerator, parent string) ([]string, error) {
	var children []string
	req := SearchRequest{
		BaseDN:     parent,
		Filter:     ContainerFilter,
		Attributes: []string{"distinguishedName"},
		Scope:      ScopeOneLevel,
	}

	err := e.Enumerate(ctx, req, func(item *Item) error {
		if item.DistinguishedName != "" && CompareReversedDN(item.DistinguishedName, parent) != 0 {
			children = append(children, item.DistinguishedName)
		}
		return nil
	})
	return children, err
}
