package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/asmadek/omni-mst-backend/internal/auth"
	"github.com/asmadek/omni-mst-backend/internal/multisig"
	"github.com/asmadek/omni-mst-backend/internal/notification"
	"github.com/asmadek/omni-mst-backend/internal/pkg/chain"
	"github.com/asmadek/omni-mst-backend/internal/pkg/firebase"
	"github.com/asmadek/omni-mst-backend/internal/pkg/messaging"
	"github.com/asmadek/omni-mst-backend/internal/pkg/middleware"
	internalws "github.com/asmadek/omni-mst-backend/internal/pkg/ws"
	"github.com/asmadek/omni-mst-backend/internal/reconciler"
	"github.com/asmadek/omni-mst-backend/internal/transfer"
	"github.com/asmadek/omni-mst-backend/internal/ws"
)

func main() {
	setupViper()
	setupZerolog()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db := setupDb()
	firebase.InitFirebaseSdk()

	msg, err := messaging.NewPubSubClient(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize messaging transport")
	}
	defer msg.Close()

	conn := setupChain()

	apiRouter := setupApiRouter(ctx, db, msg, conn)

	port := viper.Get("PORT").(string)
	server := &http.Server{
		Addr:         port,
		Handler:      apiRouter,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	server.ListenAndServe()
}

func setupDb() *gorm.DB {
	dbUrl := viper.Get("DB_URL").(string)

	db, err := gorm.Open(postgres.Open(dbUrl), &gorm.Config{})

	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}

	sqlDb, _ := db.DB()

	sqlDb.SetMaxOpenConns(50)
	sqlDb.SetConnMaxLifetime(time.Minute * 10)

	return db
}

func setupChain() *chain.SubstrateConnection {
	url := viper.Get("CHAIN_RPC_URL").(string)
	prefix := uint16(viper.GetUint32("CHAIN_SS58_PREFIX"))

	conn, err := chain.Connect(url, prefix)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to chain RPC")
	}
	return conn
}

func setupApiRouter(ctx context.Context, db *gorm.DB, msg messaging.Client, conn *chain.SubstrateConnection) *gin.Engine {
	apiRouter := gin.Default()
	routerGroup := apiRouter.Group("/omni-api")

	middleware.RegisterGlobalMiddleware(apiRouter)

	ws.RegisterRoutes(routerGroup)
	auth.RegisterRoutes(routerGroup)
	wallets := multisig.RegisterRoutes(routerGroup, db, msg, conn.SS58Prefix())

	transfers := transfer.NewService(db, conn, conn.Calls(), msg, internalws.NewNotificationHub(), wallets)
	transfer.RegisterRoutes(routerGroup, transfers)

	notifications := notification.RegisterRoutes(routerGroup, db, msg, wallets)
	notifications.StartIngest()

	chainId := viper.Get("CHAIN_ID").(string)
	reconciler.New(conn, chainId, transfers, transfers, msg).Start(ctx)

	return apiRouter
}

func setupViper() {
	viper.AutomaticEnv()
	viper.SetConfigFile("./.env")
}

func setupZerolog() {
	zerolog.LevelFieldName = "severity"
	zerolog.TimestampFieldName = "time"
	zerolog.TimeFieldFormat = time.RFC3339Nano
}
