package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/paolomoz/nova/internal/content"
)

func TestListPagesPrefix(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	st := &Store{DB: db}

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE project_id=$1 AND (path=$2 OR path LIKE $3)`)).
		WithArgs("p1", "/en_us", `/en\_us/%`).
		WillReturnRows(sqlmock.NewRows([]string{"path", "title", "updated_at"}).
			AddRow("/en_us/about", "About", time.Now()))

	pages, err := st.ListPages(context.Background(), "p1", "/en_us")
	if err != nil {
		t.Fatalf("ListPages: %v", err)
	}
	if len(pages) != 1 || pages[0].Path != "/en_us/about" {
		t.Fatalf("unexpected pages %+v", pages)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPutPageReportsCreated(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	st := &Store{DB: db}

	mock.ExpectQuery(regexp.QuoteMeta(`RETURNING (xmax = 0) AS created`)).
		WithArgs("p1", "/en/new", "New", "<p>hi</p>", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"created"}).AddRow(true))

	created, err := st.PutPage(context.Background(), content.Page{ProjectID: "p1", Path: "/en/new", Title: "New", Content: "<p>hi</p>", UpdatedBy: "u1"})
	if err != nil || !created {
		t.Fatalf("PutPage: created=%v err=%v", created, err)
	}
}

func TestGetAndDeletePageNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	st := &Store{DB: db}

	mock.ExpectQuery(regexp.QuoteMeta(`FROM pages WHERE project_id=$1 AND path=$2`)).
		WithArgs("p1", "/missing").
		WillReturnRows(sqlmock.NewRows([]string{"project_id", "path", "title", "content", "updated_by", "updated_at"}))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM pages WHERE project_id=$1 AND path=$2`)).
		WithArgs("p1", "/missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if _, err := st.GetPage(context.Background(), "p1", "/missing"); !errors.Is(err, content.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := st.DeletePage(context.Background(), "p1", "/missing"); !errors.Is(err, content.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMovePageConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	st := &Store{DB: db}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS(SELECT 1 FROM pages WHERE project_id=$1 AND path=$2)`)).
		WithArgs("p1", "/b").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	if err := st.MovePage(context.Background(), "p1", "/a", "/b"); !errors.Is(err, content.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetBrandProfile(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	st := &Store{DB: db}

	mock.ExpectQuery(regexp.QuoteMeta(`FROM brand_profiles WHERE project_id=$1`)).
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"name", "voice", "tone", "colors", "typography", "guidelines", "updated_at"}).
			AddRow("Acme", "friendly", []byte(`{warm,direct}`), []byte(`{"primary":"#ff0000"}`), []byte(`{}`), []byte(`{}`), time.Now()))

	bp, err := st.GetBrandProfile(context.Background(), "p1")
	if err != nil {
		t.Fatalf("GetBrandProfile: %v", err)
	}
	if bp.Name != "Acme" || len(bp.Tone) != 2 || bp.Colors["primary"] != "#ff0000" {
		t.Fatalf("unexpected profile %+v", bp)
	}
}
