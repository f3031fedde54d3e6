// Package fragment builds single-table query fragments that the union
// assembler stitches into one combined result set. Each fragment selects
// the normalized column shape (id, user_id, user_text, actor_id, ip,
// ip_hex, agent, ts) regardless of the physical table's own column names.
package fragment

import (
	"fmt"
	"strings"
	"time"

	"github.com/crosscheck-systems/crosscheck/internal/models"
	"github.com/crosscheck-systems/crosscheck/internal/target"
)

// Args collects positional query arguments across fragments so a union of
// many fragments shares one $n numbering space.
type Args struct {
	vals []any
}

// Add appends a value and returns its placeholder.
func (a *Args) Add(v any) string {
	a.vals = append(a.vals, v)
	return fmt.Sprintf("$%d", len(a.vals))
}

// Values returns the collected arguments in placeholder order.
func (a *Args) Values() []any {
	return a.vals
}

// CastFunc rewrites a numeric literal for stores that enforce strict column
// typing. The default keeps the literal as-is; strict stores wrap it in a
// CAST to the declared SQL type.
type CastFunc func(literal, sqlType string) string

// IdentityCast leaves literals untouched.
func IdentityCast(literal, _ string) string { return literal }

// StrictCast wraps literals in an explicit CAST.
func StrictCast(literal, sqlType string) string {
	return fmt.Sprintf("CAST(%s AS %s)", literal, sqlType)
}

// Options carries engine- and deployment-specific knobs for fragment
// construction.
type Options struct {
	// OrderedUnions is true when the backing engine supports ORDER BY and
	// LIMIT inside a union member. Without it fragments are emitted
	// unordered and unlimited, which is a known scaling cliff on such
	// engines rather than something we paper over.
	OrderedUnions bool

	// PrivateActor is false while the private-events table predates the
	// actor migration; user predicates cannot match it then.
	PrivateActor bool

	// Cast rewrites numeric literals; nil means IdentityCast.
	Cast CastFunc
}

// DefaultOptions matches a current Postgres deployment.
func DefaultOptions() Options {
	return Options{OrderedUnions: true, PrivateActor: true, Cast: IdentityCast}
}

type tableMeta struct {
	name          string
	prefix        string
	actorOptional bool
}

func metaFor(kind models.TableKind) tableMeta {
	switch kind {
	case models.TableEdits:
		return tableMeta{name: "cc_edits", prefix: "ce"}
	case models.TableLogEvents:
		return tableMeta{name: "cc_log_actions", prefix: "cl"}
	case models.TablePrivateEvents:
		return tableMeta{name: "cc_private_events", prefix: "cp", actorOptional: true}
	default:
		panic(fmt.Sprintf("fragment: unknown table kind %d", kind))
	}
}

// Build produces the fragment for one (predicate, table) pair, or ok=false
// when the pair is structurally inapplicable. limit <= 0 means unlimited.
// Unresolvable targets never reach here; callers pass only non-nil
// predicates.
func Build(p *target.Predicate, excl []*target.Predicate, cutoff *time.Time, kind models.TableKind, limit int, opts Options, args *Args) (string, bool) {
	if opts.Cast == nil {
		opts.Cast = IdentityCast
	}
	m := metaFor(kind)

	if p.Kind == target.KindUser && m.actorOptional && !opts.PrivateActor {
		return "", false
	}

	col := func(suffix string) string { return "e." + m.prefix + "_" + suffix }

	var conds []string
	join := ""

	switch p.Kind {
	case target.KindUser:
		// Federated queries match by actor name: local user IDs are not
		// stable across sites, the account name is.
		if p.ByName {
			join = fmt.Sprintf(" JOIN cc_actors a ON a.actor_id = %s AND a.name = %s",
				col("actor_id"), args.Add(p.UserText))
		} else {
			join = fmt.Sprintf(" JOIN cc_actors a ON a.actor_id = %s AND a.user_id = %s",
				col("actor_id"), args.Add(p.UserID))
		}
	case target.KindIP:
		conds = append(conds, fmt.Sprintf("%s = %s", col("ip_hex"), args.Add(p.Hex)))
	case target.KindIPRange:
		conds = append(conds, fmt.Sprintf("%s BETWEEN %s AND %s",
			col("ip_hex"), args.Add(p.StartHex), args.Add(p.EndHex)))
	}

	// Actor join also supplies user_id/user_text for IP predicates; a LEFT
	// JOIN keeps actor-less private-event rows visible.
	if p.Kind != target.KindUser {
		join = fmt.Sprintf(" LEFT JOIN cc_actors a ON a.actor_id = %s", col("actor_id"))
	}

	for _, ex := range excl {
		if ex == nil {
			continue
		}
		switch ex.Kind {
		case target.KindUser:
			conds = append(conds, fmt.Sprintf(
				"(%s IS NULL OR %s NOT IN (SELECT x.actor_id FROM cc_actors x WHERE x.user_id = %s))",
				col("actor_id"), col("actor_id"), args.Add(ex.UserID)))
		case target.KindIP:
			conds = append(conds, fmt.Sprintf("%s <> %s", col("ip_hex"), args.Add(ex.Hex)))
		case target.KindIPRange:
			conds = append(conds, fmt.Sprintf("%s NOT BETWEEN %s AND %s",
				col("ip_hex"), args.Add(ex.StartHex), args.Add(ex.EndHex)))
		}
	}

	if cutoff != nil {
		conds = append(conds, fmt.Sprintf("%s >= %s", col("ts"), args.Add(*cutoff)))
	}

	zero := opts.Cast("0", "BIGINT")
	sel := fmt.Sprintf(
		"SELECT %s AS id, COALESCE(a.user_id, %s) AS user_id, COALESCE(a.name, %s) AS user_text, "+
			"%s AS actor_id, %s AS ip, %s AS ip_hex, %s AS agent, %s AS ts, '%s' AS src FROM %s e%s",
		col("id"), zero, col("ip"),
		col("actor_id"), col("ip"), col("ip_hex"), col("agent"), col("ts"), kind.String(),
		m.name, join)

	if len(conds) > 0 {
		sel += " WHERE " + strings.Join(conds, " AND ")
	}

	if opts.OrderedUnions {
		sel += fmt.Sprintf(" ORDER BY %s DESC", col("ts"))
		if limit > 0 {
			sel += fmt.Sprintf(" LIMIT %d", limit)
		}
	}

	return "(" + sel + ")", true
}
