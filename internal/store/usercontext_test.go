package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestGetUserContextMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	st := &Store{DB: db}

	mock.ExpectQuery(regexp.QuoteMeta(`FROM user_context WHERE user_id=$1 AND project_id=$2`)).
		WithArgs("u1", "p1").
		WillReturnRows(sqlmock.NewRows([]string{"tool_frequency", "expertise_level", "expertise_rank", "active_paths", "updated_at"}))

	_, ok, err := st.GetUserContext(context.Background(), "u1", "p1")
	if err != nil || ok {
		t.Fatalf("expected missing context, ok=%v err=%v", ok, err)
	}
}

func TestGetUserContextDecodes(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	st := &Store{DB: db}

	mock.ExpectQuery(regexp.QuoteMeta(`FROM user_context WHERE user_id=$1 AND project_id=$2`)).
		WithArgs("u1", "p1").
		WillReturnRows(sqlmock.NewRows([]string{"tool_frequency", "expertise_level", "expertise_rank", "active_paths", "updated_at"}).
			AddRow([]byte(`{"read_page":3}`), "intermediate", 1, []byte(`{/en/a,/en/b}`), time.Now()))

	uc, ok, err := st.GetUserContext(context.Background(), "u1", "p1")
	if err != nil || !ok {
		t.Fatalf("GetUserContext: ok=%v err=%v", ok, err)
	}
	if uc.ToolFrequency["read_page"] != 3 || uc.ExpertiseLevel != "intermediate" {
		t.Fatalf("unexpected context %+v", uc)
	}
	if len(uc.ActivePaths) != 2 || uc.ActivePaths[0] != "/en/a" {
		t.Fatalf("unexpected paths %v", uc.ActivePaths)
	}
}

func TestIncrementToolFrequencySingleStatement(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	st := &Store{DB: db}

	mock.ExpectExec(regexp.QuoteMeta(`ON CONFLICT (user_id, project_id) DO UPDATE SET tool_frequency = (`)).
		WithArgs("u1", "p1", []byte(`{"list_pages":1,"read_page":2}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := st.IncrementToolFrequency(context.Background(), "u1", "p1", map[string]int{"read_page": 2, "list_pages": 1}); err != nil {
		t.Fatalf("IncrementToolFrequency: %v", err)
	}
	if err := st.IncrementToolFrequency(context.Background(), "u1", "p1", nil); err != nil {
		t.Fatalf("empty counts should be a no-op: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRaiseExpertiseConditional(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	st := &Store{DB: db}

	q := regexp.QuoteMeta(`WHERE user_context.expertise_rank < EXCLUDED.expertise_rank`)
	mock.ExpectExec(q).WithArgs("u1", "p1", "advanced", 2).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).WithArgs("u1", "p1", "beginner", 0).WillReturnResult(sqlmock.NewResult(0, 0))

	changed, err := st.RaiseExpertise(context.Background(), "u1", "p1", "advanced", 2)
	if err != nil || !changed {
		t.Fatalf("expected raise, changed=%v err=%v", changed, err)
	}
	changed, err = st.RaiseExpertise(context.Background(), "u1", "p1", "beginner", 0)
	if err != nil || changed {
		t.Fatalf("expected no downgrade, changed=%v err=%v", changed, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestMergeActivePathsLocksRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	st := &Store{DB: db}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`ON CONFLICT (user_id, project_id) DO NOTHING`)).
		WithArgs("u1", "p1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT active_paths FROM user_context WHERE user_id=$1 AND project_id=$2 FOR UPDATE`)).
		WithArgs("u1", "p1").
		WillReturnRows(sqlmock.NewRows([]string{"active_paths"}).AddRow([]byte(`{/old}`)))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE user_context SET active_paths=$3`)).
		WithArgs("u1", "p1", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	var seen []string
	merged, err := st.MergeActivePaths(context.Background(), "u1", "p1", func(stored []string) []string {
		seen = stored
		return append([]string{"/new"}, stored...)
	})
	if err != nil {
		t.Fatalf("MergeActivePaths: %v", err)
	}
	if len(seen) != 1 || seen[0] != "/old" {
		t.Fatalf("merge should see stored paths, got %v", seen)
	}
	if len(merged) != 2 || merged[0] != "/new" {
		t.Fatalf("unexpected merged %v", merged)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestMergeActivePathsRollsBackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	st := &Store{DB: db}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`ON CONFLICT (user_id, project_id) DO NOTHING`)).
		WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	if _, err := st.MergeActivePaths(context.Background(), "u1", "p1", func(s []string) []string { return s }); err == nil {
		t.Fatalf("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
