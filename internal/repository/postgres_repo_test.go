package repository

import (
	"testing"
)

// PostgresReportRepoはReportRepositoryインターフェースを満たすことを検証
func TestPostgresReportRepo_ImplementsInterface(t *testing.T) {
	var _ ReportRepository = (*PostgresReportRepo)(nil)
}

// PostgresMessageRepoはMessageRepositoryインターフェースを満たすことを検証
func TestPostgresMessageRepo_ImplementsInterface(t *testing.T) {
	var _ MessageRepository = (*PostgresMessageRepo)(nil)
}

// PostgresUserDirectoryRepoはUserDirectoryRepositoryインターフェースを満たすことを検証
func TestPostgresUserDirectoryRepo_ImplementsInterface(t *testing.T) {
	var _ UserDirectoryRepository = (*PostgresUserDirectoryRepo)(nil)
}

// 各リポジトリのコンストラクタが正しく初期化されることを検証
func TestNewPostgresRepos_Initialize(t *testing.T) {
	if NewPostgresReportRepo(nil) == nil {
		t.Fatal("expected non-nil report repo")
	}
	if NewPostgresMessageRepo(nil) == nil {
		t.Fatal("expected non-nil message repo")
	}
	if NewPostgresUserDirectoryRepo(nil) == nil {
		t.Fatal("expected non-nil user directory repo")
	}
}
