package engine

import (
	"sync"

	"repo-backup/src/engine/config"
)

// Fake is an in-memory Engine for unit tests. Set the *Err fields to inject
// failures and read the counters to see what the caller did.
type Fake struct {
	StartErr    error
	DeployErr   error
	DeployPanic any
	ShutdownErr error

	RepositoryName      string
	StartupProblemsList Problems

	LoginErr   error
	ManagerErr error

	BackupProblems  Problems
	BackupErr       error
	RestoreProblems Problems
	RestoreErr      error

	mu          sync.Mutex
	Starts      int
	Shutdowns   int
	Deployed    []*config.Repository
	Logins      []Credentials
	Logouts     int
	BackupCalls []BackupCall
	RestoreDirs []string
	running     bool
}

// BackupCall records the arguments of one BackupRepository call.
type BackupCall struct {
	Dir     string
	Options BackupOptions
}

func NewFake() *Fake {
	return &Fake{RepositoryName: "fake"}
}

// Running reports whether Start was called without a later Shutdown.
func (f *Fake) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *Fake) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Starts++
	if f.StartErr != nil {
		return f.StartErr
	}
	f.running = true
	return nil
}

func (f *Fake) Deploy(cfg *config.Repository) (Repository, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DeployPanic != nil {
		panic(f.DeployPanic)
	}
	if f.DeployErr != nil {
		return nil, f.DeployErr
	}
	if !f.running {
		return nil, NewRepositoryError("deploy", ErrNotRunning)
	}
	f.Deployed = append(f.Deployed, cfg)
	return &fakeRepository{f: f}, nil
}

func (f *Fake) Shutdown() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Shutdowns++
	f.running = false
	return f.ShutdownErr
}

type fakeRepository struct{ f *Fake }

func (r *fakeRepository) Name() string { return r.f.RepositoryName }

func (r *fakeRepository) StartupProblems() Problems {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	return append(Problems(nil), r.f.StartupProblemsList...)
}

func (r *fakeRepository) Login(creds Credentials) (Session, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	r.f.Logins = append(r.f.Logins, creds)
	if r.f.LoginErr != nil {
		return nil, r.f.LoginErr
	}
	return &fakeSession{f: r.f}, nil
}

type fakeSession struct{ f *Fake }

func (s *fakeSession) Manager() (Manager, error) {
	if s.f.ManagerErr != nil {
		return nil, s.f.ManagerErr
	}
	return s, nil
}

func (s *fakeSession) Logout() {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	s.f.Logouts++
}

func (s *fakeSession) BackupRepository(dir string, opts BackupOptions) (Problems, error) {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	s.f.BackupCalls = append(s.f.BackupCalls, BackupCall{Dir: dir, Options: opts})
	if s.f.BackupErr != nil {
		return nil, s.f.BackupErr
	}
	return append(Problems(nil), s.f.BackupProblems...), nil
}

func (s *fakeSession) RestoreRepository(dir string) (Problems, error) {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	s.f.RestoreDirs = append(s.f.RestoreDirs, dir)
	if s.f.RestoreErr != nil {
		return nil, s.f.RestoreErr
	}
	return append(Problems(nil), s.f.RestoreProblems...), nil
}
