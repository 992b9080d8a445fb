package repository

import "testing"

func TestMemoryUserRepository(t *testing.T) {
	t.Parallel()
	runUserRepoContract(t, NewMemoryUserRepository())
}

func TestMemoryTokenRepository(t *testing.T) {
	t.Parallel()
	runTokenRepoContract(t, NewMemoryUserRepository(), NewMemoryTokenRepository())
}

func TestMemoryCodeRepository(t *testing.T) {
	t.Parallel()
	runCodeRepoContract(t, NewMemoryUserRepository(), NewMemoryCodeRepository())
}
