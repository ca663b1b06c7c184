package draft

import (
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/hitoshi/calprov/internal/model"
)

// Registry はテナントIDから進行中ドラフトへの対応表。
// テナントごとに高々1件のドラフトのみ保持する。
// 異なるテナント間の操作は互いにブロックせず、同一テナントの操作は直列化される。
// プロセス内のみの状態で、再起動すると全ドラフトが失われる。
type Registry struct {
	drafts *xsync.MapOf[string, *Draft]
}

// NewRegistry は空のRegistryを生成する。
func NewRegistry() *Registry {
	return &Registry{drafts: xsync.NewMapOf[string, *Draft]()}
}

// Start はドラフトを登録する。
// 同じテナントのドラフトが既に存在する場合はErrAlreadyActiveを返し、既存ドラフトは変更しない。
func (r *Registry) Start(d *Draft) error {
	if _, loaded := r.drafts.LoadOrStore(d.TenantID(), d); loaded {
		return model.ErrAlreadyActive
	}
	return nil
}

// Get はテナントのドラフトのスナップショットを返す。
func (r *Registry) Get(tenantID string) (*Draft, bool) {
	d, ok := r.drafts.Load(tenantID)
	if !ok {
		return nil, false
	}
	return d.Clone(), true
}

// Remove はテナントのドラフトを削除する。存在しない場合は何もしない。
func (r *Registry) Remove(tenantID string) {
	r.drafts.Delete(tenantID)
}

// RemoveIf はテナントのドラフトがdraftIDと一致する場合のみ削除する。
// コミット中に取り消し・再開始されたドラフトを誤って消さないために使う。
func (r *Registry) RemoveIf(tenantID, draftID string) bool {
	removed := false
	r.drafts.Compute(tenantID, func(old *Draft, loaded bool) (*Draft, bool) {
		if !loaded {
			return nil, true
		}
		if old.ID() != draftID {
			return old, false
		}
		removed = true
		return nil, true
	})
	return removed
}

// Update はテナントのドラフトに対してfnを排他的に適用し、更新後のスナップショットを返す。
// fnがエラーを返した場合、ドラフトは呼び出し前の状態のまま残る。
// 確定処理中のドラフトは変更できずErrCommitInProgressを返す。
func (r *Registry) Update(tenantID string, fn func(d *Draft) error) (*Draft, error) {
	var (
		snapshot *Draft
		fnErr    error
		found    bool
	)
	r.drafts.Compute(tenantID, func(old *Draft, loaded bool) (*Draft, bool) {
		if !loaded {
			return nil, true
		}
		found = true
		if old.committing {
			fnErr = model.ErrCommitInProgress
			return old, false
		}
		working := old.Clone()
		if fnErr = fn(working); fnErr != nil {
			return old, false
		}
		snapshot = working.Clone()
		return working, false
	})
	if !found {
		return nil, model.ErrNoActiveDraft
	}
	if fnErr != nil {
		return nil, fnErr
	}
	return snapshot, nil
}

// Claim はテナントのドラフトを確定処理中にし、そのスナップショットを返す。
// 確定処理中のドラフトは他のClaimやUpdateから保護される。
// ドラフトがない場合はErrNoActiveDraft、既に確定処理中の場合はErrCommitInProgress、
// 必須項目が揃っていない場合はErrNotReadyを返し、いずれも状態を変更しない。
func (r *Registry) Claim(tenantID string) (*Draft, error) {
	var (
		snapshot *Draft
		err      error
	)
	r.drafts.Compute(tenantID, func(old *Draft, loaded bool) (*Draft, bool) {
		switch {
		case !loaded:
			err = model.ErrNoActiveDraft
			return nil, true
		case old.committing:
			err = model.ErrCommitInProgress
			return old, false
		case !old.IsReady():
			err = model.ErrNotReady
			return old, false
		}
		working := old.Clone()
		working.committing = true
		snapshot = working.Clone()
		return working, false
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// Release は確定処理に失敗したドラフトを再び編集可能に戻す。
// 処理中にドラフトが破棄・置き換えられていた場合は何もしない。
func (r *Registry) Release(tenantID, draftID string) bool {
	released := false
	r.drafts.Compute(tenantID, func(old *Draft, loaded bool) (*Draft, bool) {
		if !loaded {
			return nil, true
		}
		if old.ID() != draftID || !old.committing {
			return old, false
		}
		working := old.Clone()
		working.committing = false
		released = true
		return working, false
	})
	return released
}

// Discard はテナントのドラフトを破棄する。
// ドラフトがない場合はErrNoActiveDraft、確定処理中の場合はErrCommitInProgressを返す。
func (r *Registry) Discard(tenantID string) error {
	var err error
	r.drafts.Compute(tenantID, func(old *Draft, loaded bool) (*Draft, bool) {
		if !loaded {
			err = model.ErrNoActiveDraft
			return nil, true
		}
		if old.committing {
			err = model.ErrCommitInProgress
			return old, false
		}
		return nil, true
	})
	return err
}

// RemoveOlderThan はcutoffより前に生成されたドラフトを削除し、削除件数を返す。
// 確定処理中のドラフトは削除しない。
func (r *Registry) RemoveOlderThan(cutoff time.Time) int {
	var stale []*Draft
	r.drafts.Range(func(tenantID string, d *Draft) bool {
		if d.CreatedAt().Before(cutoff) {
			stale = append(stale, d)
		}
		return true
	})

	removed := 0
	for _, d := range stale {
		draftID := d.ID()
		r.drafts.Compute(d.TenantID(), func(old *Draft, loaded bool) (*Draft, bool) {
			if !loaded {
				return nil, true
			}
			// 確定処理中のものは結果が出るまで残す
			if old.ID() != draftID || old.committing {
				return old, false
			}
			removed++
			return nil, true
		})
	}
	return removed
}

// Len は保持しているドラフト数を返す。
func (r *Registry) Len() int {
	return r.drafts.Size()
}
