package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicdesk/clinicdesk/internal/db"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	if err := seedDoctors(context.Background(), pool, 20); err != nil {
		log.Fatalf("seed doctores: %v", err)
	}
	if err := seedPatients(context.Background(), pool, 2000); err != nil {
		log.Fatalf("seed pacientes: %v", err)
	}
	if err := seedServices(context.Background(), pool); err != nil {
		log.Fatalf("seed servicios: %v", err)
	}
	if err := seedProducts(context.Background(), pool, 80); err != nil {
		log.Fatalf("seed productos: %v", err)
	}

	log.Println("seed complete")
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d doctores", count)

	specialties := []string{
		"Medicina General",
		"Pediatría",
		"Dermatología",
		"Cardiología",
		"Odontología",
		"Ginecología",
		"Oftalmología",
		"Traumatología",
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i := 0; i < count; i++ {
		spec := specialties[gofakeit.Number(0, len(specialties)-1)]
		_, err := tx.Exec(ctx, `
			INSERT INTO doctores (id, nombre, especialidad)
			VALUES ($1, $2, $3)
		`, uuid.New(), "Dr. "+gofakeit.Name(), spec)
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Println("doctores seeded")
	return nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d pacientes", count)

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			_, err := tx.Exec(ctx, `
				INSERT INTO pacientes (id, nombre, telefono, email)
				VALUES ($1, $2, $3, $4)
			`, uuid.New(), gofakeit.Name(), gofakeit.Phone(), gofakeit.Email())
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}
	}

	log.Println("pacientes seeded")
	return nil
}

func seedServices(ctx context.Context, pool *pgxpool.Pool) error {
	services := []struct {
		name  string
		price string
	}{
		{"Consulta general", "150.00"},
		{"Consulta de especialidad", "250.00"},
		{"Limpieza dental", "300.00"},
		{"Curación", "80.00"},
		{"Aplicación de inyección", "40.00"},
		{"Electrocardiograma", "350.00"},
		{"Ultrasonido", "450.00"},
		{"Certificado médico", "120.00"},
	}

	log.Printf("seeding %d servicios", len(services))

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, s := range services {
		_, err := tx.Exec(ctx, `
			INSERT INTO servicios (id, nombre, precio, activo)
			VALUES ($1, $2, $3, true)
		`, uuid.New(), s.name, s.price)
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Println("servicios seeded")
	return nil
}

func seedProducts(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d productos", count)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i := 0; i < count; i++ {
		name := fmt.Sprintf("%s %s", gofakeit.ProductName(), gofakeit.LetterN(4))
		price := fmt.Sprintf("%d.%02d", gofakeit.Number(10, 900), gofakeit.Number(0, 99))
		_, err := tx.Exec(ctx, `
			INSERT INTO productos (id, nombre, precio, stock, activo)
			VALUES ($1, $2, $3, $4, true)
		`, uuid.New(), name, price, gofakeit.Number(0, 200))
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Println("productos seeded")
	return nil
}
