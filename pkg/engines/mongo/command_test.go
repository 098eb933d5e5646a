package mongo

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/TFMV/sqlgate/pkg/engines"
	gerrors "github.com/TFMV/sqlgate/pkg/errors"
	"github.com/TFMV/sqlgate/pkg/models"
)

func TestParseCommand(t *testing.T) {
	cmd, err := ParseCommand(`db.users.find({"age": {"$gt": 30}}, {"email": 1}).sort({"age": -1}).skip(5).limit(10);`)
	require.NoError(t, err)
	assert.Equal(t, "users", cmd.Collection)
	assert.Equal(t, "find", cmd.Method)
	require.Len(t, cmd.Args, 2)
	assert.Equal(t, bson.D{{Key: "age", Value: int32(-1)}}, cmd.Sort)
	assert.Equal(t, int64(5), cmd.Skip)
	assert.Equal(t, int64(10), cmd.Limit)
	assert.True(t, cmd.ReadOnly())

	cmd, err = ParseCommand(`db.app.logs.insertOne({"msg": "a) b"})`)
	require.NoError(t, err)
	assert.Equal(t, "app.logs", cmd.Collection)
	assert.False(t, cmd.ReadOnly())
	assert.False(t, cmd.IsDDL())

	cmd, err = ParseCommand("show collections")
	require.NoError(t, err)
	assert.Equal(t, "collections", cmd.Show)
	assert.True(t, cmd.ReadOnly())

	cmd, err = ParseCommand(`db.users.drop()`)
	require.NoError(t, err)
	assert.True(t, cmd.IsDDL())
}

func TestParseCommandErrors(t *testing.T) {
	for _, stmt := range []string{
		`users.find()`,
		`db.users.explode()`,
		`db.users.find({age: 1})`,
		`db.users.find({"a": 1}`,
		`db.users.insertOne({"a": 1}).limit(1)`,
		`db.users.find().limit(-1)`,
		`show everything`,
	} {
		_, err := ParseCommand(stmt)
		assert.Error(t, err, stmt)
	}
}

func TestAggregateWritingIsNotReadOnly(t *testing.T) {
	cmd, err := ParseCommand(`db.orders.aggregate([{"$match": {"x": 1}}, {"$out": "copy"}])`)
	require.NoError(t, err)
	assert.False(t, cmd.ReadOnly())

	cmd, err = ParseCommand(`db.orders.aggregate([{"$group": {"_id": "$x"}}])`)
	require.NoError(t, err)
	assert.True(t, cmd.ReadOnly())
}

func TestSplitCommands(t *testing.T) {
	script := `// seed
db.users.insertOne({"name": "a;b"})
db.users.updateMany(
  {"name": "a"},
  {"$set": {"x": 1}}
); db.users.deleteOne({"name": "c"})
show dbs`
	cmds, err := SplitCommands(script)
	require.NoError(t, err)
	assert.Equal(t, []string{
		`db.users.insertOne({"name": "a;b"})`,
		"db.users.updateMany(\n  {\"name\": \"a\"},\n  {\"$set\": {\"x\": 1}}\n)",
		`db.users.deleteOne({"name": "c"})`,
		"show dbs",
	}, cmds)

	_, err = SplitCommands(`db.users.find({"a": "b})`)
	assert.True(t, gerrors.IsMalformed(err))
	_, err = SplitCommands(`db.users.find({"a": 1}))`)
	assert.True(t, gerrors.IsMalformed(err))
}

func TestApplyLimit(t *testing.T) {
	assert.Equal(t, `db.u.find({}).limit(10)`, applyLimit(`db.u.find({})`, 10))
	assert.Equal(t, `db.u.find({}).limit(10)`, applyLimit(`db.u.find({}).limit(500)`, 10))
	assert.Equal(t, `db.u.find({}).limit(3)`, applyLimit(`db.u.find({}).limit(3);`, 10))
	assert.Equal(t, `db.u.count({})`, applyLimit(`db.u.count({})`, 10))
	assert.Equal(t, `db.u.find({})`, applyLimit(`db.u.find({})`, 0))
}

func TestQueryCheck(t *testing.T) {
	e := New(engines.Deps{Logger: zerolog.Nop()}).(engines.QueryChecker)

	res := e.QueryCheck(`db.users.find({"a": 1}); db.users.drop()`)
	assert.False(t, res.BadQuery)
	assert.Equal(t, `db.users.find({"a": 1})`, res.FilteredSQL)

	res = e.QueryCheck(`db.users.deleteMany({})`)
	assert.True(t, res.BadQuery)
	assert.Contains(t, res.Msg, "only")

	res = e.QueryCheck("  // nothing")
	assert.True(t, res.BadQuery)
	assert.Equal(t, "no valid statement", res.Msg)
}

func TestSplitItems(t *testing.T) {
	e := New(engines.Deps{Logger: zerolog.Nop()})
	items, err := engines.SplitItems(e, "db.a.drop()\ndb.b.drop()", "")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, models.StmtTypeSQL, items[1].StmtType)
}

func TestFillResultSet(t *testing.T) {
	oid := primitive.NewObjectID()
	docs := []bson.D{
		{{Key: "_id", Value: oid}, {Key: "name", Value: "a"}},
		{{Key: "_id", Value: oid}, {Key: "tags", Value: bson.A{"x", "y"}}},
		{{Key: "name", Value: "c"}},
	}
	rs := models.NewResultSet("q")
	fillResultSet(rs, docs, 2)

	assert.Equal(t, []string{"_id", "name", "tags"}, rs.ColumnList)
	require.Len(t, rs.Rows, 2)
	assert.True(t, rs.Truncated)
	assert.Equal(t, []any{oid.Hex(), "a", nil}, rs.Rows[0])
	assert.Equal(t, `["x","y"]`, rs.Rows[1][2])
}
