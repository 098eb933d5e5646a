package sqlparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TFMV/sqlgate/pkg/models"
)

func TestClassifyItems(t *testing.T) {
	tests := []struct {
		name string
		unit string
		want models.SQLItem
	}{
		{
			name: "anonymous block",
			unit: "DECLARE\n  n NUMBER;\nBEGIN\n  NULL;\nEND;",
			want: models.SQLItem{StmtType: models.StmtTypePLSQL, ObjectOwner: "SCOTT", ObjectType: "ANONYMOUS", ObjectName: "ANONYMOUS"},
		},
		{
			name: "begin block",
			unit: "begin null; end;",
			want: models.SQLItem{StmtType: models.StmtTypePLSQL, ObjectOwner: "SCOTT", ObjectType: "ANONYMOUS", ObjectName: "ANONYMOUS"},
		},
		{
			name: "procedure default owner",
			unit: "CREATE OR REPLACE PROCEDURE add_emp(p_id NUMBER) IS BEGIN NULL; END;",
			want: models.SQLItem{StmtType: models.StmtTypePLSQL, ObjectOwner: "SCOTT", ObjectType: "PROCEDURE", ObjectName: "ADD_EMP"},
		},
		{
			name: "qualified package body",
			unit: "create or replace package   body hr.emp_pkg as end;",
			want: models.SQLItem{StmtType: models.StmtTypePLSQL, ObjectOwner: "HR", ObjectType: "PACKAGE BODY", ObjectName: "EMP_PKG"},
		},
		{
			name: "quoted view keeps case",
			unit: `CREATE VIEW "Hr"."MixedView" AS SELECT 1 FROM dual`,
			want: models.SQLItem{StmtType: models.StmtTypePLSQL, ObjectOwner: "Hr", ObjectType: "VIEW", ObjectName: "MixedView"},
		},
		{
			name: "trigger",
			unit: "CREATE TRIGGER trg_a BEFORE INSERT ON t FOR EACH ROW BEGIN NULL; END;",
			want: models.SQLItem{StmtType: models.StmtTypePLSQL, ObjectOwner: "SCOTT", ObjectType: "TRIGGER", ObjectName: "TRG_A"},
		},
		{
			name: "plain table",
			unit: "CREATE TABLE t (id NUMBER)",
			want: models.SQLItem{StmtType: models.StmtTypeSQL},
		},
		{
			name: "transaction begin is sql",
			unit: "BEGIN",
			want: models.SQLItem{StmtType: models.StmtTypeSQL},
		},
		{
			name: "string containing slash",
			unit: "SELECT '/' FROM dual",
			want: models.SQLItem{StmtType: models.StmtTypeSQL},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyItems([]string{tt.unit}, "SCOTT")
			require.Len(t, got, 1)
			want := tt.want
			want.Statement = tt.unit
			assert.Equal(t, want, got[0])
		})
	}
}

func TestSplitItems(t *testing.T) {
	script := "-- deploy\nCREATE TABLE t (id NUMBER);\nBEGIN\n  INSERT INTO t VALUES (1);\nEND;\n/\n"
	items, err := SplitItems(script, DialectOracle, "APP")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, models.StmtTypeSQL, items[0].StmtType)
	assert.Equal(t, "CREATE TABLE t (id NUMBER)", items[0].Statement)
	assert.True(t, items[1].IsPLSQL())
	assert.Equal(t, "APP", items[1].ObjectOwner)

	_, err = SplitItems("SELECT 'x", DialectOracle, "APP")
	assert.Error(t, err)
}

func TestExtractTarget(t *testing.T) {
	tests := []struct {
		sql    string
		action Action
		object models.ObjectRef
		cond   bool
	}{
		{"CREATE TABLE t (id int)", ActionCreate, models.ObjectRef{Name: "t", Type: "TABLE"}, false},
		{"create table if not exists db.t (id int)", ActionCreate, models.ObjectRef{Schema: "db", Name: "t", Type: "TABLE"}, true},
		{"CREATE OR REPLACE VIEW v AS SELECT 1", ActionCreate, models.ObjectRef{Name: "v", Type: "VIEW"}, true},
		{"CREATE GLOBAL TEMPORARY TABLE tmp (a int)", ActionCreate, models.ObjectRef{Name: "tmp", Type: "TABLE"}, false},
		{"ALTER TABLE `db`.`t` ADD c int", ActionAlter, models.ObjectRef{Schema: "db", Name: "t", Type: "TABLE"}, false},
		{"DROP TABLE IF EXISTS t", ActionDrop, models.ObjectRef{Name: "t", Type: "TABLE"}, true},
		{"INSERT INTO \"S\".\"T\" VALUES (1)", ActionWrite, models.ObjectRef{Schema: "S", Name: "T", Type: "TABLE"}, false},
		{"INSERT IGNORE INTO t VALUES (1)", ActionWrite, models.ObjectRef{Name: "t", Type: "TABLE"}, false},
		{"UPDATE t SET a = 1 WHERE id = 2", ActionWrite, models.ObjectRef{Name: "t", Type: "TABLE"}, false},
		{"DELETE FROM s.t WHERE id = 2", ActionWrite, models.ObjectRef{Schema: "s", Name: "t", Type: "TABLE"}, false},
		{"TRUNCATE TABLE t", ActionWrite, models.ObjectRef{Name: "t", Type: "TABLE"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.sql, func(t *testing.T) {
			got, ok := ExtractTarget(tt.sql)
			require.True(t, ok)
			assert.Equal(t, tt.action, got.Action)
			assert.Equal(t, tt.object, got.Object)
			assert.Equal(t, tt.cond, got.Conditional)
		})
	}

	_, ok := ExtractTarget("SELECT 1")
	assert.False(t, ok)
	_, ok = ExtractTarget("CREATE INDEX i ON t (a)")
	assert.False(t, ok)
}
