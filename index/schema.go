package index

// Schema contains the DDL for the search index: one row per search document
// plus an external-content FTS5 table kept in sync by triggers.
const Schema = `
CREATE TABLE IF NOT EXISTS search_documents (
    id            TEXT PRIMARY KEY,
    pdf_id        TEXT NOT NULL,
    user_id       TEXT NOT NULL,
    total_pages   INTEGER NOT NULL DEFAULT 1,
    page_number   INTEGER NOT NULL DEFAULT 1,
    type          TEXT NOT NULL,
    title         TEXT NOT NULL DEFAULT '',
    text          TEXT NOT NULL DEFAULT '',
    table_json    TEXT NOT NULL DEFAULT '',
    image_json    TEXT NOT NULL DEFAULT '',
    image_caption TEXT NOT NULL DEFAULT '',
    image_text    TEXT NOT NULL DEFAULT '',
    created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_search_pdf ON search_documents(pdf_id);
CREATE INDEX IF NOT EXISTS idx_search_user ON search_documents(user_id);
CREATE INDEX IF NOT EXISTS idx_search_type ON search_documents(user_id, type);

CREATE VIRTUAL TABLE IF NOT EXISTS search_fts USING fts5(
    title,
    text,
    image_caption,
    image_text,
    content='search_documents',
    content_rowid='rowid',
    tokenize='unicode61 remove_diacritics 2'
);

CREATE TRIGGER IF NOT EXISTS search_documents_ai AFTER INSERT ON search_documents BEGIN
    INSERT INTO search_fts(rowid, title, text, image_caption, image_text)
    VALUES (new.rowid, new.title, new.text, new.image_caption, new.image_text);
END;
CREATE TRIGGER IF NOT EXISTS search_documents_ad AFTER DELETE ON search_documents BEGIN
    INSERT INTO search_fts(search_fts, rowid, title, text, image_caption, image_text)
    VALUES ('delete', old.rowid, old.title, old.text, old.image_caption, old.image_text);
END;
CREATE TRIGGER IF NOT EXISTS search_documents_au AFTER UPDATE ON search_documents BEGIN
    INSERT INTO search_fts(search_fts, rowid, title, text, image_caption, image_text)
    VALUES ('delete', old.rowid, old.title, old.text, old.image_caption, old.image_text);
    INSERT INTO search_fts(rowid, title, text, image_caption, image_text)
    VALUES (new.rowid, new.title, new.text, new.image_caption, new.image_text);
END;
`
