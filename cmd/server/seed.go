package main

import (
	"context"
	"time"

	"github.com/ammar1510/tripchat/internal/auth"
	"github.com/ammar1510/tripchat/internal/database"
	"github.com/ammar1510/tripchat/internal/models"
)

// seedDemo creates two users sharing one trip and logs a token for each, so
// a fresh development database can be chatted on right away.
func seedDemo(db database.Seeder) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	users := []*models.User{
		{Name: "Ana", Email: "ana@example.com"},
		{Name: "Bo", Email: "bo@example.com"},
	}
	for _, u := range users {
		if err := db.CreateUser(ctx, u); err != nil {
			return err
		}
	}

	trip := &models.Trip{Name: "Demo trip"}
	if err := db.CreateTrip(ctx, trip, users[0].ID, users[1].ID); err != nil {
		return err
	}
	log.Info("Seeded demo trip %s", trip.ID)

	for _, u := range users {
		token, expires, err := auth.GenerateToken(u)
		if err != nil {
			return err
		}
		log.Info("Demo user %s (%s) token, valid until %s: %s", u.Name, u.ID, expires.Format(time.RFC3339), token)
	}
	return nil
}
