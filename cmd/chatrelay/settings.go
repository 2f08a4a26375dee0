package main

import (
	"strings"

	"github.com/samber/lo"
)

type Settings struct {
	Port              int    `env:"PORT,default=8000"`
	BasePath          string `env:"BASE_PATH,default=/chat"`
	JWTSecret         string `env:"JWT_SECRET,required=true"`
	APIKeys           string `env:"API_KEYS"`
	AllowedOrigins    string `env:"ALLOWED_ORIGINS"`
	LogEncoding       string `env:"LOG_ENCODING,default=console"`
	MongoURI          string `env:"MONGO_URI,default=mongodb://localhost:27017"`
	MongoDatabase     string `env:"MONGO_DATABASE,default=chatrelay"`
	OutboundQueueSize int    `env:"OUTBOUND_QUEUE_SIZE,default=256"`
}

func (s Settings) APIKeyList() []string {
	return splitList(s.APIKeys)
}

func (s Settings) AllowedOriginList() []string {
	return splitList(s.AllowedOrigins)
}

func splitList(value string) []string {
	items := lo.Map(strings.Split(value, ","), func(item string, _ int) string {
		return strings.TrimSpace(item)
	})

	return lo.Compact(items)
}
