package repository

import (
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"honeyguard/internal/models"
)

const attackColumns = "id, timestamp, attacker_ip, target_endpoint, attack_type, risk_level, user_agent, payload"

type PostgresRepository struct {
	db *sqlx.DB
}

func NewPostgresRepository(url string) (*PostgresRepository, error) {
	db, err := sqlx.Connect("pgx", url)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresRepository{db: db}, nil
}

// SaveAttack archives one attack. Re-saving an id is a no-op.
func (p *PostgresRepository) SaveAttack(a models.Attack) error {
	_, err := p.db.NamedExec(`INSERT INTO attack_events (`+attackColumns+`)
		VALUES (:id, :timestamp, :attacker_ip, :target_endpoint, :attack_type, :risk_level, :user_agent, :payload)
		ON CONFLICT (id) DO NOTHING`, a)
	return err
}

// RecentAttacks returns the newest archived attacks first.
func (p *PostgresRepository) RecentAttacks(limit int) ([]models.Attack, error) {
	attacks := []models.Attack{}
	err := p.db.Select(&attacks, "SELECT "+attackColumns+" FROM attack_events ORDER BY timestamp DESC, id LIMIT $1", limit)
	return attacks, err
}

func (p *PostgresRepository) AttacksByIP(ip string, limit int) ([]models.Attack, error) {
	attacks := []models.Attack{}
	err := p.db.Select(&attacks, "SELECT "+attackColumns+" FROM attack_events WHERE attacker_ip = $1 ORDER BY timestamp DESC, id LIMIT $2", ip, limit)
	return attacks, err
}

func (p *PostgresRepository) CountSince(since time.Time) (int, error) {
	var n int
	err := p.db.Get(&n, "SELECT COUNT(*) FROM attack_events WHERE timestamp >= $1", since)
	return n, err
}

func (p *PostgresRepository) Ping() error {
	return p.db.Ping()
}

func (p *PostgresRepository) Close() error {
	return p.db.Close()
}
