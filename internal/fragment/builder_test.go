package fragment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crosscheck-systems/crosscheck/internal/models"
	"github.com/crosscheck-systems/crosscheck/internal/target"
)

func ipPred(hex string) *target.Predicate {
	return &target.Predicate{Kind: target.KindIP, Hex: hex}
}

func userPred(id int64) *target.Predicate {
	return &target.Predicate{Kind: target.KindUser, UserID: id, UserText: "U"}
}

func TestBuildIPFragment(t *testing.T) {
	args := &Args{}
	sql, ok := Build(ipPred("01020304"), nil, nil, models.TableEdits, 10, DefaultOptions(), args)
	require.True(t, ok)

	assert.Contains(t, sql, "FROM cc_edits e")
	assert.Contains(t, sql, "e.ce_ip_hex = $1")
	assert.Contains(t, sql, "LEFT JOIN cc_actors a")
	assert.Contains(t, sql, "ORDER BY e.ce_ts DESC")
	assert.Contains(t, sql, "LIMIT 10")
	assert.Equal(t, []any{"01020304"}, args.Values())
}

func TestBuildUserFragmentJoinsActor(t *testing.T) {
	args := &Args{}
	sql, ok := Build(userPred(42), nil, nil, models.TableLogEvents, 0, DefaultOptions(), args)
	require.True(t, ok)

	assert.Contains(t, sql, "FROM cc_log_actions e")
	assert.Contains(t, sql, "JOIN cc_actors a ON a.actor_id = e.cl_actor_id AND a.user_id = $1")
	assert.NotContains(t, sql, "LIMIT")
	assert.Equal(t, []any{int64(42)}, args.Values())
}

func TestBuildRangeFragment(t *testing.T) {
	args := &Args{}
	p := &target.Predicate{Kind: target.KindIPRange, StartHex: "0A000000", EndHex: "0A0000FF"}
	sql, ok := Build(p, nil, nil, models.TablePrivateEvents, 5, DefaultOptions(), args)
	require.True(t, ok)

	assert.Contains(t, sql, "e.cp_ip_hex BETWEEN $1 AND $2")
	assert.Equal(t, []any{"0A000000", "0A0000FF"}, args.Values())
}

func TestBuildExclusionsApplyRegardlessOfKind(t *testing.T) {
	args := &Args{}
	excl := []*target.Predicate{
		userPred(7),
		ipPred("7F000001"),
		{Kind: target.KindIPRange, StartHex: "0A000000", EndHex: "0A0000FF"},
	}
	sql, ok := Build(ipPred("01020304"), excl, nil, models.TableEdits, 0, DefaultOptions(), args)
	require.True(t, ok)

	assert.Contains(t, sql, "NOT IN (SELECT x.actor_id FROM cc_actors x WHERE x.user_id = $2)")
	assert.Contains(t, sql, "e.ce_ip_hex <> $3")
	assert.Contains(t, sql, "e.ce_ip_hex NOT BETWEEN $4 AND $5")
}

func TestBuildCutoff(t *testing.T) {
	args := &Args{}
	cutoff := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	sql, ok := Build(ipPred("01020304"), nil, &cutoff, models.TableEdits, 0, DefaultOptions(), args)
	require.True(t, ok)

	assert.Contains(t, sql, "e.ce_ts >= $2")
	assert.Equal(t, []any{"01020304", cutoff}, args.Values())
}

func TestBuildUserAgainstUnmigratedPrivateTable(t *testing.T) {
	opts := DefaultOptions()
	opts.PrivateActor = false

	args := &Args{}
	_, ok := Build(userPred(42), nil, nil, models.TablePrivateEvents, 0, opts, args)
	assert.False(t, ok, "user predicate cannot match the private table before the actor migration")
	assert.Empty(t, args.Values())
}

func TestBuildUnorderedEngineOmitsOrderAndLimit(t *testing.T) {
	opts := DefaultOptions()
	opts.OrderedUnions = false

	args := &Args{}
	sql, ok := Build(ipPred("01020304"), nil, nil, models.TableEdits, 10, opts, args)
	require.True(t, ok)
	assert.NotContains(t, sql, "ORDER BY")
	assert.NotContains(t, sql, "LIMIT")
}

func TestBuildStrictCast(t *testing.T) {
	opts := DefaultOptions()
	opts.Cast = StrictCast

	args := &Args{}
	sql, ok := Build(ipPred("01020304"), nil, nil, models.TableEdits, 0, opts, args)
	require.True(t, ok)
	assert.Contains(t, sql, "COALESCE(a.user_id, CAST(0 AS BIGINT))")
}

func TestArgsSharedAcrossFragments(t *testing.T) {
	args := &Args{}
	_, ok := Build(ipPred("AA"), nil, nil, models.TableEdits, 0, DefaultOptions(), args)
	require.True(t, ok)
	sql2, ok := Build(ipPred("BB"), nil, nil, models.TableLogEvents, 0, DefaultOptions(), args)
	require.True(t, ok)

	assert.Contains(t, sql2, "$2")
	assert.Equal(t, []any{"AA", "BB"}, args.Values())
}
