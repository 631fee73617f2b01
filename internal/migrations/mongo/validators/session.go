package validators

import "go.mongodb.org/mongo-driver/bson"

var UsageSessionValidator = bson.M{
	"$jsonSchema": bson.M{
		"bsonType": "object",
		"required": []string{
			"device_id",
			"start_time",
		},
		"additionalProperties": true,

		"properties": bson.M{
			"_id": bson.M{
				"bsonType": "objectId",
			},

			"device_id": objectIDString,

			"start_time": bson.M{
				"bsonType": "date",
			},

			// null while the device is still powered on
			"end_time": bson.M{
				"bsonType": []string{"date", "null"},
			},
		},
	},
}
