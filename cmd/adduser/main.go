// cmd/adduser/main.go
// Creates or updates a platform user in the database.
//
// Usage:
//
//	go run ./cmd/adduser -username padraic -password testing -driver-name "Padraic B" -transponder 1234567
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/padraicbc/racedata/config"
	bundb "github.com/padraicbc/racedata/db"
	"github.com/padraicbc/racedata/handlers"
	"github.com/padraicbc/racedata/matching"
	"github.com/padraicbc/racedata/models"
)

func main() {
	username := flag.String("username", "", "username (required)")
	password := flag.String("password", "", "plain-text password (required)")
	driverName := flag.String("driver-name", "", "name the user races under")
	transponder := flag.String("transponder", "", "personal transponder number")
	withDriver := flag.Bool("driver", false, "also create a platform driver record for the user")
	flag.Parse()

	hash, err := handlers.HashPasswordForUser(*username, *password)
	if err != nil {
		log.Fatal("both -username and -password are required: ", err)
	}

	cfg := config.Load()
	db := bundb.Setup(cfg)
	defer db.Close()
	ctx := context.Background()

	name := strings.TrimSpace(*driverName)
	var tr *string
	if t := strings.TrimSpace(*transponder); t != "" {
		tr = &t
	}

	user := &models.User{
		Username:       strings.TrimSpace(*username),
		Password:       hash,
		DriverName:     name,
		NormalizedName: matching.NormalizeName(name),
		Transponder:    tr,
	}

	_, err = db.NewInsert().Model(user).
		On("CONFLICT (username) DO UPDATE").
		Set("password = EXCLUDED.password").
		Set("driver_name = EXCLUDED.driver_name").
		Set("normalized_name = EXCLUDED.normalized_name").
		Set("transponder = EXCLUDED.transponder").
		Exec(ctx)
	if err != nil {
		log.Fatal("insert user:", err)
	}

	if *withDriver && name != "" {
		d := &models.Driver{
			DisplayName:    name,
			NormalizedName: user.NormalizedName,
			Transponder:    tr,
			Source:         models.DriverSourcePlatform,
		}
		if _, err := db.NewInsert().Model(d).Returning("id").Exec(ctx); err != nil {
			log.Fatal("insert driver:", err)
		}
		fmt.Printf("driver %d created for %q\n", d.ID, name)
	}

	fmt.Printf("user %q saved\n", user.Username)
}
