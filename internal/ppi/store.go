// Package ppi looks up protein-protein interaction partners and their
// confidence scores, from a local DuckDB cache built from STRING links
// files or from the live STRING API.
package ppi

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/inodb/vibe-gsea/internal/snapshot"
)

// Partners maps partner gene symbols to confidence scores in [0,1].
type Partners map[string]float64

// Store holds interaction data in DuckDB.
type Store struct {
	db         *sql.DB
	prepOnce   sync.Once
	partnersPS *sql.Stmt // prepared statement for Partners, lazily initialized
	prepErr    error
}

// Open opens or creates an interaction store at path.
// Use an empty string for an in-memory database.
func Open(path string) (*Store, error) {
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create cache directory: %w", err)
		}
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS interactions (
		gene VARCHAR,
		partner VARCHAR,
		score DOUBLE
	)`); err != nil {
		return err
	}
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS cache_meta (
		key VARCHAR PRIMARY KEY,
		value VARCHAR
	)`); err != nil {
		return err
	}
	s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_interactions_gene ON interactions (gene)`)
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.partnersPS != nil {
		s.partnersPS.Close()
	}
	return s.db.Close()
}

// Loaded returns true if the interaction table has data.
func (s *Store) Loaded() bool {
	n, err := s.Count()
	return err == nil && n > 0
}

// Count returns the number of interaction rows.
func (s *Store) Count() (int64, error) {
	var n int64
	if err := s.db.QueryRow("SELECT COUNT(*) FROM interactions").Scan(&n); err != nil {
		return 0, fmt.Errorf("count interactions: %w", err)
	}
	return n, nil
}

// Load replaces the table contents with a STRING-style links file:
//
//	gene1 gene2 combined_score
//
// with one header line and scores from 0 to 1000. Both directions of every
// pair are stored and scores are scaled to [0,1]. Gzipped files are read
// transparently.
func (s *Store) Load(path string, delim rune) error {
	src := fmt.Sprintf(`read_csv('%s', delim='%s', header=true,
		columns={'gene1': 'VARCHAR', 'gene2': 'VARCHAR', 'score': 'DOUBLE'})`,
		sqlQuote(path), sqlQuote(string(delim)))
	return s.replaceFrom(src)
}

// LoadProteinLinks loads a STRING protein.links file, whose rows name
// proteins by STRING ID, translating IDs to preferred names with the
// matching protein.info file. Links whose proteins are missing from the
// info file are dropped.
func (s *Store) LoadProteinLinks(linksPath, infoPath string) error {
	src := fmt.Sprintf(`(SELECT a.name AS gene1, b.name AS gene2, l.score
		FROM read_csv('%[1]s', delim=' ', header=true,
			columns={'protein1': 'VARCHAR', 'protein2': 'VARCHAR', 'score': 'DOUBLE'}) l
		JOIN %[2]s a ON a.id = l.protein1
		JOIN %[2]s b ON b.id = l.protein2)`,
		sqlQuote(linksPath), proteinInfo(infoPath))
	return s.replaceFrom(src)
}

func proteinInfo(path string) string {
	return fmt.Sprintf(`read_csv('%s', delim='\t', header=true, quote='',
		columns={'id': 'VARCHAR', 'name': 'VARCHAR', 'size': 'INTEGER', 'annotation': 'VARCHAR'})`,
		sqlQuote(path))
}

// replaceFrom replaces the table contents with the rows of src, a relation
// with gene1, gene2 and score columns. The previous contents survive a
// failed load.
func (s *Store) replaceFrom(src string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin load: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM interactions`); err != nil {
		return fmt.Errorf("clear interactions: %w", err)
	}

	query := fmt.Sprintf(`INSERT INTO interactions
		SELECT gene, partner, max(score) FROM (
			SELECT upper(gene1) AS gene, gene2 AS partner, score / 1000.0 AS score FROM %[1]s
			UNION ALL
			SELECT upper(gene2), gene1, score / 1000.0 FROM %[1]s
		) WHERE gene <> upper(partner)
		GROUP BY gene, partner`, src)

	if _, err := tx.Exec(query); err != nil {
		return fmt.Errorf("loading interaction links: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit interaction links: %w", err)
	}
	return nil
}

func sqlQuote(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// Partners returns the partners of gene scoring at least minScore.
// Gene matching is case-insensitive.
func (s *Store) Partners(gene string, minScore float64) (Partners, error) {
	s.prepOnce.Do(func() {
		s.partnersPS, s.prepErr = s.db.Prepare(`SELECT partner, score FROM interactions WHERE gene = ? AND score >= ?`)
	})
	if s.prepErr != nil {
		return nil, fmt.Errorf("prepare partner query: %w", s.prepErr)
	}

	rows, err := s.partnersPS.Query(strings.ToUpper(strings.TrimSpace(gene)), minScore)
	if err != nil {
		return nil, fmt.Errorf("query partners of %s: %w", gene, err)
	}
	defer rows.Close()

	out := make(Partners)
	for rows.Next() {
		var partner string
		var score float64
		if err := rows.Scan(&partner, &score); err != nil {
			return nil, fmt.Errorf("scan partner: %w", err)
		}
		if cur, ok := out[partner]; !ok || score > cur {
			out[partner] = score
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate partners: %w", err)
	}
	return out, nil
}

// SetSource records the fingerprint of the file the table was loaded from.
func (s *Store) SetSource(fp snapshot.Fingerprint) error {
	for k, v := range fp.Meta("source") {
		if _, err := s.db.Exec(`INSERT OR REPLACE INTO cache_meta VALUES (?, ?)`, k, v); err != nil {
			return fmt.Errorf("write cache metadata: %w", err)
		}
	}
	return nil
}

// SourceMatches reports whether the table was loaded from a file with the
// same fingerprint as fp.
func (s *Store) SourceMatches(fp snapshot.Fingerprint) bool {
	rows, err := s.db.Query(`SELECT key, value FROM cache_meta`)
	if err != nil {
		return false
	}
	defer rows.Close()

	meta := make(map[string]string)
	for rows.Next() {
		var k, v string
		if rows.Scan(&k, &v) == nil {
			meta[k] = v
		}
	}
	return fp.Matches(meta, "source")
}
