package handlers

import (
	"context"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	config "github.com/thirdweb-dev/ledgersync/configs"
	"github.com/thirdweb-dev/ledgersync/internal/storage"
)

// package-level variables for shared storage
var (
	mainStorage storage.IStorage
	storageOnce sync.Once
	storageErr  error
)

// getMainStorage returns the storage the API reads from. Handlers only ever
// call read methods on it.
func getMainStorage() (storage.IStorage, error) {
	storageOnce.Do(func() {
		mainStorage, storageErr = storage.NewStorageConnector(context.Background(), &config.Cfg.Storage)
		if storageErr != nil {
			log.Error().Err(storageErr).Msg("Error creating storage connector")
		}
	})
	return mainStorage, storageErr
}

// UseStorage makes the API share an already opened storage, e.g. the one the
// orchestrator runs on when both live in the same process.
func UseStorage(s storage.IStorage) {
	storageOnce.Do(func() {})
	mainStorage = s
	storageErr = nil
}

func sendJSONResponse(c *gin.Context, response interface{}) {
	c.JSON(200, response)
}
