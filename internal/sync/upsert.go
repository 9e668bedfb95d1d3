package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/openfondos/grantmirror/internal/clients/bdns"
	"github.com/openfondos/grantmirror/internal/observability"
	"github.com/openfondos/grantmirror/internal/platform/logger"
	"github.com/openfondos/grantmirror/internal/repos"
	"github.com/openfondos/grantmirror/internal/types"
)

// Upserter merges one fetched detail into the store. Work is split into
// three phases per record:
//
//  1. one transaction for the scalar fields plus full replacement of every
//     reference-set membership;
//  2. one transaction per owned collection (documents, announcements,
//     objectives), run concurrently, each a delete-then-recreate;
//  3. one transaction stamping the content hash and last-synced timestamp.
//
// The stamp only happens when every collection landed, so an interrupted
// rebuild leaves the old hash in place and the next run reprocesses the
// record from scratch.
type Upserter struct {
	log     *logger.Logger
	db      *gorm.DB
	refs    *RefCache
	calls   repos.GrantCallRepo
	docs    repos.GrantDocumentRepo
	anns    repos.GrantAnnouncementRepo
	objs    repos.GrantObjectiveRepo
	metrics *observability.Metrics
}

type UpsertResult struct {
	GrantCallID uuid.UUID
	ContentHash string
	SummaryHash string
	Documents   []DocumentJob
}

func NewUpserter(
	log *logger.Logger,
	db *gorm.DB,
	refs *RefCache,
	calls repos.GrantCallRepo,
	docs repos.GrantDocumentRepo,
	anns repos.GrantAnnouncementRepo,
	objs repos.GrantObjectiveRepo,
	metrics *observability.Metrics,
) *Upserter {
	return &Upserter{
		log:     log.With("component", "Upserter"),
		db:      db,
		refs:    refs,
		calls:   calls,
		docs:    docs,
		anns:    anns,
		objs:    objs,
		metrics: metrics,
	}
}

func (u *Upserter) Upsert(ctx context.Context, detail *bdns.CallDetail) (*UpsertResult, error) {
	contentHash := ContentHash(detail)
	summaryHash := SummaryHashFromDetail(detail)
	resolved := u.resolveReferences(detail)

	var call *types.GrantCall
	err := u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := u.calls.GetByExternalID(ctx, tx, detail.ID)
		if err != nil {
			return err
		}
		call = applyDetail(existing, detail, resolved.purposeID)
		if err := u.calls.Save(ctx, tx, call); err != nil {
			return fmt.Errorf("save scalar fields: %w", err)
		}

		// Set semantics: stale memberships drop out when the remote stops
		// reporting them.
		if err := u.calls.ReplaceAssociation(ctx, tx, call, "BeneficiaryTypes", resolved.beneficiaryTypes); err != nil {
			return fmt.Errorf("replace beneficiary types: %w", err)
		}
		if err := u.calls.ReplaceAssociation(ctx, tx, call, "Instruments", resolved.instruments); err != nil {
			return fmt.Errorf("replace instruments: %w", err)
		}
		if err := u.calls.ReplaceAssociation(ctx, tx, call, "Regions", resolved.regions); err != nil {
			return fmt.Errorf("replace regions: %w", err)
		}
		if err := u.calls.ReplaceAssociation(ctx, tx, call, "Funds", resolved.funds); err != nil {
			return fmt.Errorf("replace funds: %w", err)
		}
		if err := u.calls.ReplaceAssociation(ctx, tx, call, "Sectors", resolved.sectors); err != nil {
			return fmt.Errorf("replace sectors: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, &RelationSyncError{ExternalID: detail.ID, Err: err}
	}

	newDocs, err := u.buildDocuments(ctx, call.ID, detail)
	if err != nil {
		return nil, &RelationSyncError{ExternalID: detail.ID, Err: err}
	}
	newAnns := buildAnnouncements(call.ID, detail)
	newObjs := buildObjectives(call.ID, detail)

	// Collection rebuilds are independent of each other; run them together
	// and fail the record as one if any of them failed.
	rebuildErrs := make([]error, 3)
	var wg gosync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		rebuildErrs[0] = u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return u.docs.ReplaceForGrantCall(ctx, tx, call.ID, newDocs)
		})
	}()
	go func() {
		defer wg.Done()
		rebuildErrs[1] = u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return u.anns.ReplaceForGrantCall(ctx, tx, call.ID, newAnns)
		})
	}()
	go func() {
		defer wg.Done()
		rebuildErrs[2] = u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return u.objs.ReplaceForGrantCall(ctx, tx, call.ID, newObjs)
		})
	}()
	wg.Wait()
	if err := errors.Join(rebuildErrs...); err != nil {
		return nil, &RelationSyncError{ExternalID: detail.ID, Err: fmt.Errorf("rebuild owned collections: %w", err)}
	}

	stampedAt := time.Now().UTC()
	err = u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return u.calls.StampSynced(ctx, tx, call.ID, contentHash, summaryHash, stampedAt)
	})
	if err != nil {
		return nil, &RelationSyncError{ExternalID: detail.ID, Err: fmt.Errorf("stamp synced: %w", err)}
	}

	jobs := make([]DocumentJob, 0, len(newDocs))
	for _, doc := range newDocs {
		jobs = append(jobs, DocumentJob{GrantCallID: call.ID, DocumentID: doc.ID})
	}
	return &UpsertResult{
		GrantCallID: call.ID,
		ContentHash: contentHash,
		SummaryHash: summaryHash,
		Documents:   jobs,
	}, nil
}

type resolvedRefs struct {
	purposeID        *uuid.UUID
	beneficiaryTypes []*types.BeneficiaryType
	instruments      []*types.Instrument
	regions          []*types.Region
	funds            []*types.Fund
	sectors          []*types.Sector
}

func (u *Upserter) resolveReferences(detail *bdns.CallDetail) resolvedRefs {
	var out resolvedRefs

	if detail.Purpose != nil {
		if id, ok := u.refs.Resolve(RefPurpose, detail.Purpose.ResolutionKey()); ok {
			out.purposeID = &id
		} else {
			u.warnRefMiss(RefPurpose, detail.Purpose.ResolutionKey(), detail.ID)
		}
	}
	for _, rv := range detail.BeneficiaryTypes {
		if id, ok := u.refs.Resolve(RefBeneficiaryType, rv.ResolutionKey()); ok {
			out.beneficiaryTypes = append(out.beneficiaryTypes, &types.BeneficiaryType{ID: id})
		} else {
			u.warnRefMiss(RefBeneficiaryType, rv.ResolutionKey(), detail.ID)
		}
	}
	for _, rv := range detail.Instruments {
		if id, ok := u.refs.Resolve(RefInstrument, rv.ResolutionKey()); ok {
			out.instruments = append(out.instruments, &types.Instrument{ID: id})
		} else {
			u.warnRefMiss(RefInstrument, rv.ResolutionKey(), detail.ID)
		}
	}
	for _, rv := range detail.Regions {
		if id, ok := u.refs.Resolve(RefRegion, rv.ResolutionKey()); ok {
			out.regions = append(out.regions, &types.Region{ID: id})
		} else {
			u.warnRefMiss(RefRegion, rv.ResolutionKey(), detail.ID)
		}
	}
	for _, rv := range detail.Funds {
		if id, ok := u.refs.Resolve(RefFund, rv.ResolutionKey()); ok {
			out.funds = append(out.funds, &types.Fund{ID: id})
		} else {
			u.warnRefMiss(RefFund, rv.ResolutionKey(), detail.ID)
		}
	}
	for _, rv := range detail.Sectors {
		if id, ok := u.refs.Resolve(RefSector, rv.ResolutionKey()); ok {
			out.sectors = append(out.sectors, &types.Sector{ID: id})
		} else {
			u.warnRefMiss(RefSector, rv.ResolutionKey(), detail.ID)
		}
	}
	return out
}

// A reference the catalog does not know is saved without that membership and
// logged for catalog maintenance. It never fails the record.
func (u *Upserter) warnRefMiss(category RefCategory, key string, externalID int64) {
	u.metrics.RecordRefMiss(string(category))
	u.log.Warn("Unresolved reference code",
		"category", string(category),
		"code", key,
		"external_id", externalID,
	)
}

// applyDetail overwrites every externally-sourced field with the fetched
// value, including empty ones. Last write wins; local state never merges in.
func applyDetail(existing *types.GrantCall, detail *bdns.CallDetail, purposeID *uuid.UUID) *types.GrantCall {
	call := existing
	if call == nil {
		call = &types.GrantCall{ExternalID: detail.ID}
	}
	call.Code = detail.Code
	call.Title = detail.Title
	call.Description = detail.RegulationText
	call.OrganLevel1 = detail.Organ.Level1
	call.OrganLevel2 = detail.Organ.Level2
	call.OrganLevel3 = detail.Organ.Level3
	call.BudgetTotal = detail.BudgetTotal
	call.PublishedAt = parseRemoteDate(detail.ReceivedAt)
	call.ApplicationOpensAt = parseRemoteDate(detail.ApplicationOpensAt)
	call.ApplicationClosesAt = parseRemoteDate(detail.ApplicationClosesAt)
	call.Open = detail.Open
	call.RegulationURL = detail.RegulationURL
	call.ElectronicOffice = detail.ElectronicOffice
	call.RecoveryFunded = detail.RecoveryFunded
	call.PurposeID = purposeID

	if len(detail.Raw) > 0 {
		call.RawDetail = datatypes.JSON(detail.Raw)
	} else if raw, err := json.Marshal(detail); err == nil {
		call.RawDetail = datatypes.JSON(raw)
	}
	return call
}

// buildDocuments carries previously stored object pointers over by external
// id, so a rebuild does not blank a pointer the storage worker already set.
func (u *Upserter) buildDocuments(ctx context.Context, grantCallID uuid.UUID, detail *bdns.CallDetail) ([]*types.GrantDocument, error) {
	prior, err := u.docs.ListByGrantCallID(ctx, nil, grantCallID)
	if err != nil {
		return nil, fmt.Errorf("list prior documents: %w", err)
	}
	priorByExternal := make(map[int64]*types.GrantDocument, len(prior))
	for _, p := range prior {
		priorByExternal[p.ExternalID] = p
	}

	out := make([]*types.GrantDocument, 0, len(detail.Documents))
	for _, ref := range detail.Documents {
		doc := &types.GrantDocument{
			GrantCallID: grantCallID,
			ExternalID:  ref.ID,
			Name:        ref.Description,
			FileName:    ref.FileName,
			SizeBytes:   ref.SizeBytes,
			ModifiedAt:  parseRemoteDate(ref.ModifiedAt),
			PublishedAt: parseRemoteDate(ref.PublishedAt),
		}
		if p, ok := priorByExternal[ref.ID]; ok {
			doc.StorageKey = p.StorageKey
			doc.FileURL = p.FileURL
		}
		out = append(out, doc)
	}
	return out, nil
}

func buildAnnouncements(grantCallID uuid.UUID, detail *bdns.CallDetail) []*types.GrantAnnouncement {
	out := make([]*types.GrantAnnouncement, 0, len(detail.Announcements))
	for _, ref := range detail.Announcements {
		out = append(out, &types.GrantAnnouncement{
			GrantCallID: grantCallID,
			Number:      ref.Number,
			Title:       ref.Title,
			TitleLang:   ref.TitleLang,
			Text:        ref.Text,
			URL:         ref.URL,
			Gazette:     ref.Gazette,
			PublishedAt: parseRemoteDate(ref.PublishedAt),
		})
	}
	return out
}

func buildObjectives(grantCallID uuid.UUID, detail *bdns.CallDetail) []*types.GrantObjective {
	out := make([]*types.GrantObjective, 0, len(detail.Objectives))
	for _, ref := range detail.Objectives {
		if ref.Description == "" {
			continue
		}
		out = append(out, &types.GrantObjective{
			GrantCallID: grantCallID,
			Description: ref.Description,
		})
	}
	return out
}

var remoteDateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	time.RFC3339,
}

func parseRemoteDate(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	for _, layout := range remoteDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t
		}
	}
	return nil
}
