package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"
	"time"

	"github.com/formrelay/formrelay/internal/database"
	"github.com/formrelay/formrelay/pkg/logger"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// intake-seed inserts one sample submission into the watched collection so the
// watcher can be exercised end to end during development.
func main() {
	name := flag.String("name", "Sample Customer", "submitter name")
	email := flag.String("email", "customer@example.com", "submitter email")
	file := flag.String("file", "", "optional file to embed as uploadedFile")
	flag.Parse()

	_ = godotenv.Load(".env")
	viper.AutomaticEnv()
	viper.SetDefault("MONGO_DATABASE", "test")
	viper.SetDefault("MONGO_COLLECTION", "forms")

	uri := viper.GetString("MONGO_URI")
	if uri == "" {
		logger.Fatalf("environment variable MONGO_URI is required")
	}

	ctx := context.Background()
	client, err := database.ConnectMongo(ctx, uri, 10*time.Second)
	if err != nil {
		logger.Fatalf("%v", err)
	}
	defer func() { _ = client.Disconnect(ctx) }()

	doc := bson.M{
		"name":                *name,
		"email":               *email,
		"phone":               "555-0100",
		"communicationMethod": "email",
		"contactTime":         "morning",
		"projectType":         "renovation",
		"projectDescription":  "Seeded by intake-seed",
		"createdAt":           primitive.NewDateTimeFromTime(time.Now()),
	}
	if *file != "" {
		data, err := os.ReadFile(*file)
		if err != nil {
			logger.Fatalf("read %s: %v", *file, err)
		}
		doc["uploadedFile"] = bson.M{
			"data":     primitive.Binary{Data: data},
			"filename": filepath.Base(*file),
		}
	}

	col := client.Database(viper.GetString("MONGO_DATABASE")).Collection(viper.GetString("MONGO_COLLECTION"))
	res, err := col.InsertOne(ctx, doc)
	if err != nil {
		logger.Fatalf("insert submission: %v", err)
	}
	logger.Infof("inserted submission %v", res.InsertedID)
}
