package filestore

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) Save(ctx context.Context, name, originalName, contentType string, uploadedBy int, content io.Reader) (FileInfo, error) {
	args := m.Called(name, originalName, contentType, uploadedBy, content)
	return args.Get(0).(FileInfo), args.Error(1)
}
func (m *MockStore) Open(ctx context.Context, name string) (io.ReadCloser, FileInfo, error) {
	args := m.Called(name)
	if rc, ok := args.Get(0).(io.ReadCloser); ok {
		return rc, args.Get(1).(FileInfo), args.Error(2)
	}
	return nil, args.Get(1).(FileInfo), args.Error(2)
}
func (m *MockStore) Stat(ctx context.Context, name string) (FileInfo, error) {
	args := m.Called(name)
	return args.Get(0).(FileInfo), args.Error(1)
}
