package models

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

type User struct {
	ID        bson.ObjectID `json:"_id,omitempty" bson:"_id,omitempty"`
	UserID    string        `json:"user_id,omitempty" bson:"user_id"`
	FirstName string        `json:"first_name,omitempty" bson:"first_name,omitempty" validate:"required"`
	LastName  string        `json:"last_name,omitempty" bson:"last_name,omitempty" validate:"required"`
	Email     string        `json:"email,omitempty" bson:"email,omitempty" validate:"required,email"`
	Password  string        `json:"password,omitempty" bson:"password,omitempty" validate:"required,min=6"`
	Role      string        `json:"role,omitempty" bson:"role,omitempty"`
	CreatedAt time.Time     `json:"created_at,omitempty" bson:"created_at,omitempty"`
	UpdatedAt time.Time     `json:"updated_at,omitempty" bson:"updated_at,omitempty"`
}

type UserLogin struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type UserResponse struct {
	UserID    string `json:"user_id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Token     string `json:"token"`
}
