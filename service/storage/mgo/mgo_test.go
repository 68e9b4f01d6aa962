package mgo

import (
	"context"
	"os"
	"testing"

	"PPRelay/data/database/mgo/mongoutil"
	"PPRelay/service/storage"
	"PPRelay/service/storage/storagetest"
	"PPRelay/tools/ids"

	"github.com/stretchr/testify/require"
)

// 需要可用的 mongo：PPRELAY_TEST_MONGO_URI=mongodb://localhost:27017
func TestContract(t *testing.T) {
	uri := os.Getenv("PPRELAY_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("PPRELAY_TEST_MONGO_URI not set")
	}
	storagetest.Run(t, func(t *testing.T) storage.Store {
		ctx := context.Background()
		dbName := "pprelay_test_" + ids.GenerateString()
		s, err := Open(ctx, &mongoutil.Config{Uri: uri, Database: dbName})
		require.NoError(t, err)
		return droppingStore{s}
	})
}

// droppingStore 关闭前删除测试库
type droppingStore struct {
	*Store
}

func (d droppingStore) Close() error {
	_ = d.client.GetDB().Drop(context.Background())
	return d.Store.Close()
}
