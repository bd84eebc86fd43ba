package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/sprezz-net/sprezz/pkg/crypto"
	zerrors "github.com/sprezz-net/sprezz/pkg/errors"
	"github.com/sprezz-net/sprezz/pkg/types"
)

// uniqueViolation is the PostgreSQL SQLSTATE for a unique constraint failure.
const uniqueViolation = "23505"

// Postgres is a Store backed by PostgreSQL. Create-or-update calls run in a
// transaction holding a row lock on the record being compared.
type Postgres struct {
	db *sql.DB
}

// OpenPostgres connects to dsn and applies the schema.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	s := &Postgres{db: db}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *Postgres) Close() error { return s.db.Close() }

func (s *Postgres) CreateChannel(ctx context.Context, ch *types.LocalChannel, x *types.XChannel, hub *types.Hub) error {
	privatePEM, err := ch.Key.ExportPrivatePEM()
	if err != nil {
		return fmt.Errorf("export channel key: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO zot_channel (nickname, name, channel_hash, guid, signature, private_key)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		ch.Nickname, ch.Name, ch.ChannelHash, ch.GUID, ch.Signature, string(privatePEM))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", zerrors.ErrDuplicateChannel, ch.Nickname)
		}
		return fmt.Errorf("insert channel: %w", err)
	}

	if _, err := insertXChannel(ctx, tx, x, ""); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: hash %s", zerrors.ErrDuplicateChannel, x.ChannelHash)
		}
		return err
	}
	if _, err := insertHub(ctx, tx, hub, ""); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: hub %s", zerrors.ErrDuplicateChannel, hub.ChannelHash)
		}
		return err
	}
	return tx.Commit()
}

const channelColumns = `nickname, name, channel_hash, guid, signature, private_key, created_at`

func scanChannel(row interface{ Scan(...any) error }) (*types.LocalChannel, error) {
	var ch types.LocalChannel
	var privatePEM string
	if err := row.Scan(&ch.Nickname, &ch.Name, &ch.ChannelHash, &ch.GUID, &ch.Signature, &privatePEM, &ch.CreatedAt); err != nil {
		return nil, err
	}
	key, err := crypto.FromPrivatePEM([]byte(privatePEM))
	if err != nil {
		return nil, fmt.Errorf("channel %s: %w", ch.Nickname, err)
	}
	ch.Key = key
	return &ch, nil
}

func (s *Postgres) GetChannel(ctx context.Context, nickname string) (*types.LocalChannel, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+channelColumns+` FROM zot_channel WHERE nickname = $1`, nickname)
	ch, err := scanChannel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: channel %s", zerrors.ErrNotFound, nickname)
	}
	return ch, err
}

func (s *Postgres) GetChannelByHash(ctx context.Context, channelHash string) (*types.LocalChannel, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+channelColumns+` FROM zot_channel WHERE channel_hash = $1`, channelHash)
	ch, err := scanChannel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: channel hash %s", zerrors.ErrNotFound, channelHash)
	}
	return ch, err
}

func (s *Postgres) ListChannels(ctx context.Context) ([]*types.LocalChannel, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+channelColumns+` FROM zot_channel ORDER BY nickname`)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	var out []*types.LocalChannel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

const xchannelColumns = `channel_hash, nickname, name, guid, signature, public_key, address, url,
	connections_url, photo_mimetype, photo_url, photo_updated, flags, local, created_at, updated_at`

func scanXChannel(row interface{ Scan(...any) error }) (*types.XChannel, error) {
	var x types.XChannel
	var publicPEM string
	var flags sql.NullString
	if err := row.Scan(&x.ChannelHash, &x.Nickname, &x.Name, &x.GUID, &x.Signature, &publicPEM,
		&x.Address, &x.URL, &x.ConnectionsURL, &x.PhotoMimetype, &x.PhotoURL, &x.PhotoUpdated,
		&flags, &x.Local, &x.CreatedAt, &x.UpdatedAt); err != nil {
		return nil, err
	}
	key, err := crypto.FromPublicPEM([]byte(publicPEM))
	if err != nil {
		return nil, fmt.Errorf("xchannel %s: %w", x.ChannelHash, err)
	}
	x.Key = key
	if flags.Valid {
		if err := json.Unmarshal([]byte(flags.String), &x.Flags); err != nil {
			return nil, fmt.Errorf("xchannel %s flags: %w", x.ChannelHash, err)
		}
	}
	return &x, nil
}

// skipExisting turns an insert into a no-op when the key is already taken.
const skipExisting = ` ON CONFLICT DO NOTHING`

// inserted reports whether res wrote a row.
func inserted(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func insertXChannel(ctx context.Context, tx *sql.Tx, x *types.XChannel, onConflict string) (bool, error) {
	publicPEM, err := x.Key.ExportPublicPEM()
	if err != nil {
		return false, fmt.Errorf("export xchannel key: %w", err)
	}
	flags, err := marshalFlags(x.Flags)
	if err != nil {
		return false, err
	}
	return inserted(tx.ExecContext(ctx, `
		INSERT INTO zot_xchannel (channel_hash, nickname, name, guid, signature, public_key, address, url,
			connections_url, photo_mimetype, photo_url, photo_updated, flags, local)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`+onConflict,
		x.ChannelHash, x.Nickname, x.Name, x.GUID, x.Signature, publicPEM, x.Address, x.URL,
		x.ConnectionsURL, x.PhotoMimetype, x.PhotoURL, x.PhotoUpdated, flags, x.Local))
}

func (s *Postgres) GetXChannel(ctx context.Context, channelHash string) (*types.XChannel, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+xchannelColumns+` FROM zot_xchannel WHERE channel_hash = $1`, channelHash)
	x, err := scanXChannel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: xchannel %s", zerrors.ErrNotFound, channelHash)
	}
	return x, err
}

func (s *Postgres) FindXChannelByAddress(ctx context.Context, address string) (*types.XChannel, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+xchannelColumns+` FROM zot_xchannel
		WHERE address = $1 ORDER BY channel_hash LIMIT 1`, address)
	x, err := scanXChannel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: xchannel address %s", zerrors.ErrNotFound, address)
	}
	return x, err
}

func (s *Postgres) FindXChannelByGUID(ctx context.Context, guid, signature string) (*types.XChannel, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+xchannelColumns+` FROM zot_xchannel
		WHERE guid = $1 AND signature = $2 ORDER BY channel_hash LIMIT 1`, guid, signature)
	x, err := scanXChannel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: xchannel guid %s", zerrors.ErrNotFound, guid)
	}
	return x, err
}

func (s *Postgres) ListXChannels(ctx context.Context) ([]*types.XChannel, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+xchannelColumns+` FROM zot_xchannel ORDER BY channel_hash`)
	if err != nil {
		return nil, fmt.Errorf("list xchannels: %w", err)
	}
	defer rows.Close()

	var out []*types.XChannel
	for rows.Next() {
		x, err := scanXChannel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, x)
	}
	return out, rows.Err()
}

func (s *Postgres) UpsertXChannel(ctx context.Context, x *types.XChannel) (UpsertResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return UpsertResult{}, err
	}
	defer tx.Rollback()

	created, err := insertXChannel(ctx, tx, x, skipExisting)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("insert xchannel: %w", err)
	}
	if created {
		return UpsertResult{Created: true}, tx.Commit()
	}

	// The row exists, possibly committed by a concurrent import.
	row := tx.QueryRowContext(ctx, `SELECT `+xchannelColumns+` FROM zot_xchannel WHERE channel_hash = $1 FOR UPDATE`, x.ChannelHash)
	existing, err := scanXChannel(row)
	if err != nil {
		return UpsertResult{}, err
	}

	changed := existing.Update(x)
	if len(changed) == 0 {
		return UpsertResult{}, tx.Commit()
	}
	flags, err := marshalFlags(existing.Flags)
	if err != nil {
		return UpsertResult{}, err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE zot_xchannel SET nickname = $2, name = $3, address = $4, url = $5, connections_url = $6,
			photo_mimetype = $7, photo_url = $8, photo_updated = $9, flags = $10, updated_at = NOW()
		WHERE channel_hash = $1`,
		existing.ChannelHash, existing.Nickname, existing.Name, existing.Address, existing.URL,
		existing.ConnectionsURL, existing.PhotoMimetype, existing.PhotoURL, existing.PhotoUpdated, flags)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("update xchannel: %w", err)
	}
	return UpsertResult{Changed: changed}, tx.Commit()
}

const hubColumns = `channel_hash, guid, signature, site_key, host, address, url, url_signature,
	callback, is_primary, local, created_at, updated_at`

func scanHub(row interface{ Scan(...any) error }) (*types.Hub, error) {
	var h types.Hub
	var siteKey string
	if err := row.Scan(&h.ChannelHash, &h.GUID, &h.Signature, &siteKey, &h.Host, &h.Address, &h.URL,
		&h.URLSignature, &h.Callback, &h.Primary, &h.Local, &h.CreatedAt, &h.UpdatedAt); err != nil {
		return nil, err
	}
	key, err := crypto.FromPublicPEM([]byte(siteKey))
	if err != nil {
		return nil, fmt.Errorf("hub %s: %w", h.ChannelHash, err)
	}
	h.SiteKey = key
	return &h, nil
}

func insertHub(ctx context.Context, tx *sql.Tx, h *types.Hub, onConflict string) (bool, error) {
	siteKey, err := h.SiteKey.ExportPublicPEM()
	if err != nil {
		return false, fmt.Errorf("export site key: %w", err)
	}
	return inserted(tx.ExecContext(ctx, `
		INSERT INTO zot_hub (channel_hash, guid, signature, site_key, host, address, url, url_signature,
			callback, is_primary, local)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`+onConflict,
		h.ChannelHash, h.GUID, h.Signature, siteKey, h.Host, h.Address, h.URL, h.URLSignature,
		h.Callback, h.Primary, h.Local))
}

func (s *Postgres) AddHub(ctx context.Context, hub *types.Hub) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := insertHub(ctx, tx, hub, ""); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: hub %s", zerrors.ErrAlreadyExists, hub.ChannelHash)
		}
		return fmt.Errorf("insert hub: %w", err)
	}
	return tx.Commit()
}

func (s *Postgres) GetHub(ctx context.Context, channelHash string) (*types.Hub, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+hubColumns+` FROM zot_hub WHERE channel_hash = $1`, channelHash)
	h, err := scanHub(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: hub %s", zerrors.ErrNotFound, channelHash)
	}
	return h, err
}

func (s *Postgres) ListHubs(ctx context.Context) ([]*types.Hub, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+hubColumns+` FROM zot_hub ORDER BY channel_hash`)
	if err != nil {
		return nil, fmt.Errorf("list hubs: %w", err)
	}
	defer rows.Close()

	var out []*types.Hub
	for rows.Next() {
		h, err := scanHub(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *Postgres) UpsertHub(ctx context.Context, hub *types.Hub) (UpsertResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return UpsertResult{}, err
	}
	defer tx.Rollback()

	created, err := insertHub(ctx, tx, hub, skipExisting)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("insert hub: %w", err)
	}
	if created {
		return UpsertResult{Created: true}, tx.Commit()
	}

	row := tx.QueryRowContext(ctx, `SELECT `+hubColumns+` FROM zot_hub WHERE channel_hash = $1 FOR UPDATE`, hub.ChannelHash)
	existing, err := scanHub(row)
	if err != nil {
		return UpsertResult{}, err
	}

	changed := existing.Update(hub)
	if len(changed) == 0 {
		return UpsertResult{}, tx.Commit()
	}
	siteKey, err := existing.SiteKey.ExportPublicPEM()
	if err != nil {
		return UpsertResult{}, fmt.Errorf("export site key: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE zot_hub SET site_key = $2, host = $3, address = $4, url = $5, url_signature = $6,
			callback = $7, is_primary = $8, updated_at = NOW()
		WHERE channel_hash = $1`,
		existing.ChannelHash, siteKey, existing.Host, existing.Address, existing.URL,
		existing.URLSignature, existing.Callback, existing.Primary)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("update hub: %w", err)
	}
	return UpsertResult{Changed: changed}, tx.Commit()
}

const siteColumns = `url, register_policy, access_policy, directory_mode, directory_url, version,
	admin_email, created_at, updated_at`

func scanSite(row interface{ Scan(...any) error }) (*types.Site, error) {
	var site types.Site
	err := row.Scan(&site.URL, &site.RegisterPolicy, &site.AccessPolicy, &site.DirectoryMode,
		&site.DirectoryURL, &site.Version, &site.AdminEmail, &site.CreatedAt, &site.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &site, nil
}

func (s *Postgres) GetSite(ctx context.Context, url string) (*types.Site, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+siteColumns+` FROM zot_site WHERE url = $1`, url)
	site, err := scanSite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: site %s", zerrors.ErrNotFound, url)
	}
	return site, err
}

func (s *Postgres) ListSites(ctx context.Context) ([]*types.Site, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+siteColumns+` FROM zot_site ORDER BY url`)
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	defer rows.Close()

	var out []*types.Site
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, site)
	}
	return out, rows.Err()
}

func (s *Postgres) UpsertSite(ctx context.Context, site *types.Site) (UpsertResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return UpsertResult{}, err
	}
	defer tx.Rollback()

	created, err := inserted(tx.ExecContext(ctx, `
		INSERT INTO zot_site (url, register_policy, access_policy, directory_mode, directory_url, version, admin_email)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`+skipExisting,
		site.URL, site.RegisterPolicy, site.AccessPolicy, site.DirectoryMode, site.DirectoryURL,
		site.Version, site.AdminEmail))
	if err != nil {
		return UpsertResult{}, fmt.Errorf("insert site: %w", err)
	}
	if created {
		return UpsertResult{Created: true}, tx.Commit()
	}

	row := tx.QueryRowContext(ctx, `SELECT `+siteColumns+` FROM zot_site WHERE url = $1 FOR UPDATE`, site.URL)
	existing, err := scanSite(row)
	if err != nil {
		return UpsertResult{}, err
	}

	changed := existing.Update(site)
	if len(changed) == 0 {
		return UpsertResult{}, tx.Commit()
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE zot_site SET register_policy = $2, access_policy = $3, directory_mode = $4,
			directory_url = $5, version = $6, admin_email = $7, updated_at = NOW()
		WHERE url = $1`,
		existing.URL, existing.RegisterPolicy, existing.AccessPolicy, existing.DirectoryMode,
		existing.DirectoryURL, existing.Version, existing.AdminEmail)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("update site: %w", err)
	}
	return UpsertResult{Changed: changed}, tx.Commit()
}

const itemColumns = `message_id, title, body, mimetype, author_hash, owner_hash, created_at, updated_at`

func scanItem(row interface{ Scan(...any) error }) (*types.Item, error) {
	var item types.Item
	err := row.Scan(&item.MessageID, &item.Title, &item.Body, &item.Mimetype,
		&item.AuthorHash, &item.OwnerHash, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Postgres) AddItem(ctx context.Context, item *types.Item) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO zot_item (message_id, title, body, mimetype, author_hash, owner_hash)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		item.MessageID, item.Title, item.Body, item.Mimetype, item.AuthorHash, item.OwnerHash)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: item %s", zerrors.ErrAlreadyExists, item.MessageID)
		}
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

func (s *Postgres) GetItem(ctx context.Context, messageID string) (*types.Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM zot_item WHERE message_id = $1`, messageID)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: item %s", zerrors.ErrNotFound, messageID)
	}
	return item, err
}

func (s *Postgres) UpdateItem(ctx context.Context, item *types.Item) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM zot_item WHERE message_id = $1 FOR UPDATE`, item.MessageID)
	existing, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: item %s", zerrors.ErrNotFound, item.MessageID)
	}
	if err != nil {
		return nil, err
	}

	changed := existing.Update(item)
	if len(changed) == 0 {
		return nil, tx.Commit()
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE zot_item SET title = $2, body = $3, mimetype = $4, updated_at = NOW()
		WHERE message_id = $1`,
		existing.MessageID, existing.Title, existing.Body, existing.Mimetype)
	if err != nil {
		return nil, fmt.Errorf("update item: %w", err)
	}
	return changed, tx.Commit()
}

func marshalFlags(flags map[string]bool) (sql.NullString, error) {
	if flags == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(flags)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal flags: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
