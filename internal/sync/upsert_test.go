package sync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/openfondos/grantmirror/internal/clients/bdns"
	"github.com/openfondos/grantmirror/internal/repos"
	"github.com/openfondos/grantmirror/internal/types"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// The upserter rebuilds collections in concurrent transactions; a single
	// connection keeps the in-memory database alive and serializes writers.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(
		&types.BeneficiaryType{},
		&types.Instrument{},
		&types.Region{},
		&types.Fund{},
		&types.Sector{},
		&types.Purpose{},
		&types.GrantCall{},
		&types.GrantDocument{},
		&types.GrantAnnouncement{},
		&types.GrantObjective{},
		&types.SyncRun{},
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedCatalogs(t *testing.T, db *gorm.DB) {
	t.Helper()
	rows := []interface{}{
		&types.BeneficiaryType{Code: "PYME", Name: "Pequeñas y medianas empresas"},
		&types.BeneficiaryType{Code: "AUT", Name: "Autónomos"},
		&types.BeneficiaryType{Code: "ORG", Name: "Organismos públicos"},
		&types.Instrument{Code: "SUB", Name: "Subvención a fondo perdido"},
		&types.Region{Code: "ES30", Name: "Madrid"},
		&types.Region{Code: "ES51", Name: "Cataluña"},
		&types.Fund{Code: "FEDER", Name: "FEDER"},
		&types.Sector{Code: "J", Name: "Información y comunicaciones"},
		&types.Purpose{Code: "15", Name: "Industria"},
	}
	for _, row := range rows {
		if err := db.Create(row).Error; err != nil {
			t.Fatalf("seed catalog row: %v", err)
		}
	}
}

type upsertFixture struct {
	db       *gorm.DB
	calls    repos.GrantCallRepo
	docs     repos.GrantDocumentRepo
	anns     repos.GrantAnnouncementRepo
	objs     repos.GrantObjectiveRepo
	refs     *RefCache
	upserter *Upserter
}

func newUpsertFixture(t *testing.T) *upsertFixture {
	t.Helper()
	log := testLogger(t)
	db := openTestDB(t)
	seedCatalogs(t, db)

	f := &upsertFixture{
		db:    db,
		calls: repos.NewGrantCallRepo(db, log),
		docs:  repos.NewGrantDocumentRepo(db, log),
		anns:  repos.NewGrantAnnouncementRepo(db, log),
		objs:  repos.NewGrantObjectiveRepo(db, log),
		refs:  NewRefCache(repos.NewReferenceRepo(db, log), log),
	}
	if err := f.refs.Load(context.Background()); err != nil {
		t.Fatalf("load refs: %v", err)
	}
	f.upserter = NewUpserter(log, db, f.refs, f.calls, f.docs, f.anns, f.objs, testMetrics())
	return f
}

func (f *upsertFixture) load(t *testing.T, externalID int64) *types.GrantCall {
	t.Helper()
	call, err := f.calls.GetByExternalID(context.Background(), nil, externalID)
	if err != nil {
		t.Fatalf("load call: %v", err)
	}
	if call == nil {
		t.Fatalf("call %d not found", externalID)
	}
	return call
}

func (f *upsertFixture) beneficiaryCodes(t *testing.T, call *types.GrantCall) []string {
	t.Helper()
	var members []*types.BeneficiaryType
	if err := f.db.Model(call).Association("BeneficiaryTypes").Find(&members); err != nil {
		t.Fatalf("load memberships: %v", err)
	}
	out := make([]string, 0, len(members))
	for _, m := range members {
		out = append(out, m.Code)
	}
	sort.Strings(out)
	return out
}

func TestUpsertCreatesRecordWithRelations(t *testing.T) {
	f := newUpsertFixture(t)
	ctx := context.Background()
	detail := sampleDetail()

	res, err := f.upserter.Upsert(ctx, detail)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	call := f.load(t, detail.ID)
	if call.Code != detail.Code || call.Title != detail.Title {
		t.Fatalf("scalar fields not applied: %+v", call)
	}
	if call.ContentHash != ContentHash(detail) {
		t.Fatalf("content hash not stamped")
	}
	if call.SummaryHash != SummaryHashFromDetail(detail) {
		t.Fatalf("summary hash not stamped")
	}
	if call.LastSyncedAt == nil {
		t.Fatalf("last synced timestamp not stamped")
	}
	if call.PurposeID == nil {
		t.Fatalf("purpose not resolved")
	}

	if got := f.beneficiaryCodes(t, call); len(got) != 2 {
		t.Fatalf("expected 2 beneficiary memberships, got %v", got)
	}

	docs, err := f.docs.ListByGrantCallID(ctx, nil, call.ID)
	if err != nil {
		t.Fatalf("list docs: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}
	if len(res.Documents) != 2 {
		t.Fatalf("expected 2 document jobs, got %d", len(res.Documents))
	}
	for _, job := range res.Documents {
		if job.GrantCallID != call.ID {
			t.Fatalf("document job references wrong call")
		}
	}

	anns, err := f.anns.ListByGrantCallID(ctx, nil, call.ID)
	if err != nil {
		t.Fatalf("list announcements: %v", err)
	}
	if len(anns) != 1 {
		t.Fatalf("expected 1 announcement, got %d", len(anns))
	}
	objs, err := f.objs.ListByGrantCallID(ctx, nil, call.ID)
	if err != nil {
		t.Fatalf("list objectives: %v", err)
	}
	if len(objs) != 2 {
		t.Fatalf("expected 2 objectives, got %d", len(objs))
	}
}

func TestUpsertReplacesReferenceSets(t *testing.T) {
	f := newUpsertFixture(t)
	ctx := context.Background()

	detail := sampleDetail()
	detail.BeneficiaryTypes = []bdns.RefValue{{Code: "PYME"}, {Code: "AUT"}}
	if _, err := f.upserter.Upsert(ctx, detail); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	call := f.load(t, detail.ID)
	if got := f.beneficiaryCodes(t, call); fmt.Sprint(got) != "[AUT PYME]" {
		t.Fatalf("initial membership wrong: %v", got)
	}

	// The remote now reports {AUT, ORG}: PYME must drop, ORG must appear.
	detail.BeneficiaryTypes = []bdns.RefValue{{Code: "AUT"}, {Code: "ORG"}}
	if _, err := f.upserter.Upsert(ctx, detail); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	call = f.load(t, detail.ID)
	if got := f.beneficiaryCodes(t, call); fmt.Sprint(got) != "[AUT ORG]" {
		t.Fatalf("membership not replaced, got %v", got)
	}
}

func TestUpsertUnresolvedReferenceIsOmittedNotFatal(t *testing.T) {
	f := newUpsertFixture(t)
	ctx := context.Background()

	detail := sampleDetail()
	detail.BeneficiaryTypes = []bdns.RefValue{{Code: "PYME"}, {Code: "NO-SUCH-CODE"}}
	if _, err := f.upserter.Upsert(ctx, detail); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	call := f.load(t, detail.ID)
	if got := f.beneficiaryCodes(t, call); fmt.Sprint(got) != "[PYME]" {
		t.Fatalf("expected the unknown code to be omitted, got %v", got)
	}
}

func TestUpsertLastWriteWins(t *testing.T) {
	f := newUpsertFixture(t)
	ctx := context.Background()

	detail := sampleDetail()
	if _, err := f.upserter.Upsert(ctx, detail); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if call := f.load(t, detail.ID); call.BudgetTotal == nil || call.ElectronicOffice == "" {
		t.Fatalf("fixture should populate budget and office")
	}

	// The remote dropped both fields; the local row must follow.
	detail.BudgetTotal = nil
	detail.ElectronicOffice = ""
	if _, err := f.upserter.Upsert(ctx, detail); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	call := f.load(t, detail.ID)
	if call.BudgetTotal != nil {
		t.Fatalf("budget must be overwritten with null, got %v", *call.BudgetTotal)
	}
	if call.ElectronicOffice != "" {
		t.Fatalf("office must be overwritten with empty, got %q", call.ElectronicOffice)
	}
}

func TestUpsertPreservesStoragePointersAcrossRebuild(t *testing.T) {
	f := newUpsertFixture(t)
	ctx := context.Background()

	detail := sampleDetail()
	if _, err := f.upserter.Upsert(ctx, detail); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	call := f.load(t, detail.ID)

	docs, err := f.docs.ListByGrantCallID(ctx, nil, call.ID)
	if err != nil {
		t.Fatalf("list docs: %v", err)
	}
	var stored *types.GrantDocument
	for _, d := range docs {
		if d.ExternalID == 91 {
			stored = d
		}
	}
	if stored == nil {
		t.Fatalf("document 91 missing")
	}
	if err := f.docs.SetStorage(ctx, nil, stored.ID, "grant-calls/x/documents/91.pdf", "https://cdn.example.org/91.pdf"); err != nil {
		t.Fatalf("set storage: %v", err)
	}

	// A content change forces a full child rebuild.
	detail.Title = "Ayudas a la digitalización de pymes (modificada)"
	if _, err := f.upserter.Upsert(ctx, detail); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	docs, err = f.docs.ListByGrantCallID(ctx, nil, call.ID)
	if err != nil {
		t.Fatalf("list docs after rebuild: %v", err)
	}
	for _, d := range docs {
		switch d.ExternalID {
		case 91:
			if d.StorageKey != "grant-calls/x/documents/91.pdf" {
				t.Fatalf("storage pointer lost on rebuild")
			}
			if d.ID == stored.ID {
				t.Fatalf("rebuild should have recreated the row")
			}
		case 92:
			if d.StorageKey != "" {
				t.Fatalf("unstored document gained a pointer")
			}
		}
	}
}

// failingDocRepo breaks the document rebuild to simulate a mid-upsert fault.
type failingDocRepo struct {
	repos.GrantDocumentRepo
}

func (f *failingDocRepo) ReplaceForGrantCall(ctx context.Context, tx *gorm.DB, grantCallID uuid.UUID, docs []*types.GrantDocument) error {
	return fmt.Errorf("disk full")
}

func TestUpsertInterruptedRebuildNeverAdvancesHash(t *testing.T) {
	f := newUpsertFixture(t)
	ctx := context.Background()
	log := testLogger(t)

	detail := sampleDetail()
	if _, err := f.upserter.Upsert(ctx, detail); err != nil {
		t.Fatalf("initial upsert: %v", err)
	}
	before := f.load(t, detail.ID)

	// New content arrives but the document rebuild fails.
	detail.Title = "Ayudas modificadas"
	broken := NewUpserter(log, f.db, f.refs, f.calls, &failingDocRepo{f.docs}, f.anns, f.objs, testMetrics())
	_, err := broken.Upsert(ctx, detail)
	if err == nil {
		t.Fatalf("expected the upsert to fail")
	}
	var rse *RelationSyncError
	if !errors.As(err, &rse) || rse.ExternalID != detail.ID {
		t.Fatalf("expected a relation sync error for %d, got %v", detail.ID, err)
	}

	// The hash must still gate on the new content: an interrupted record
	// stays a candidate for the next run.
	after := f.load(t, detail.ID)
	if after.ContentHash != before.ContentHash {
		t.Fatalf("interrupted upsert advanced the content hash")
	}
	if after.ContentHash == ContentHash(detail) {
		t.Fatalf("interrupted upsert stamped the new hash")
	}

	// A retry with a healthy store fully reconstructs the record.
	if _, err := f.upserter.Upsert(ctx, detail); err != nil {
		t.Fatalf("retry upsert: %v", err)
	}
	final := f.load(t, detail.ID)
	if final.ContentHash != ContentHash(detail) {
		t.Fatalf("retry did not stamp the new hash")
	}
	docs, err := f.docs.ListByGrantCallID(ctx, nil, final.ID)
	if err != nil {
		t.Fatalf("list docs: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("retry did not reconstruct documents, got %d", len(docs))
	}
}
