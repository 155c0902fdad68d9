package traits

import "github.com/mcoot/bunker/internal/model"

// Bunker describes the shelter the survivors are competing for
type Bunker struct {
	AreaSquareMetres int    `json:"area_square_metres"`
	Duration         string `json:"duration"`
	FoodFor          int    `json:"food_for"`
}

// DefaultBunker is shown to every lobby
func DefaultBunker() Bunker {
	return Bunker{AreaSquareMetres: 300, Duration: "1 year", FoodFor: 5}
}

var defaultTemplates = []model.Traits{
	{
		Profession: "Surgeon", ProfessionExperience: "12 years", Age: 41, Gender: "Female",
		Health: "Healthy", Education: "Medical doctorate", Hobby: "Chess", HobbyExperience: "20 years",
		Phobia: "Claustrophobia", BagItem: "First aid kit", SpecialAbility: "Can swap health with another player",
		AdditionalTraits: "Insomniac",
	},
	{
		Profession: "Electrician", ProfessionExperience: "8 years", Age: 34, Gender: "Male",
		Health: "Mild asthma", Education: "Vocational college", Hobby: "Fishing", HobbyExperience: "5 years",
		Phobia: "Fear of the dark", BagItem: "Toolbox", SpecialAbility: "Can reveal one trait of any player",
		AdditionalTraits: "Speaks three languages",
	},
	{
		Profession: "Farmer", ProfessionExperience: "25 years", Age: 58, Gender: "Male",
		Health: "Bad knee", Education: "Secondary school", Hobby: "Beekeeping", HobbyExperience: "15 years",
		Phobia: "Fear of crowds", BagItem: "Seed collection", SpecialAbility: "Can cancel one vote against them",
		AdditionalTraits: "Snores loudly",
	},
	{
		Profession: "Schoolteacher", ProfessionExperience: "6 years", Age: 29, Gender: "Female",
		Health: "Healthy", Education: "Pedagogy degree", Hobby: "Guitar", HobbyExperience: "10 years",
		Phobia: "Fear of spiders", BagItem: "Box of books", SpecialAbility: "Can swap bag items with another player",
		AdditionalTraits: "Natural leader",
	},
	{
		Profession: "Chemist", ProfessionExperience: "15 years", Age: 47, Gender: "Male",
		Health: "Diabetes", Education: "PhD in chemistry", Hobby: "Home brewing", HobbyExperience: "7 years",
		Phobia: "Fear of heights", BagItem: "Water purification tablets", SpecialAbility: "Can heal one player",
		AdditionalTraits: "Short-tempered",
	},
	{
		Profession: "Soldier", ProfessionExperience: "4 years", Age: 23, Gender: "Female",
		Health: "Excellent", Education: "Military academy", Hobby: "Rock climbing", HobbyExperience: "3 years",
		Phobia: "Fear of water", BagItem: "Hunting knife", SpecialAbility: "Can force a revote",
		AdditionalTraits: "Light sleeper",
	},
	{
		Profession: "Cook", ProfessionExperience: "18 years", Age: 52, Gender: "Male",
		Health: "Overweight", Education: "Culinary school", Hobby: "Gardening", HobbyExperience: "12 years",
		Phobia: "Fear of blood", BagItem: "Cast-iron pan", SpecialAbility: "Can double the food supply once",
		AdditionalTraits: "Tells long stories",
	},
	{
		Profession: "Programmer", ProfessionExperience: "9 years", Age: 31, Gender: "Non-binary",
		Health: "Poor eyesight", Education: "Computer science degree", Hobby: "Amateur radio", HobbyExperience: "4 years",
		Phobia: "Fear of silence", BagItem: "Solar charger", SpecialAbility: "Can see who voted against them",
		AdditionalTraits: "Very patient",
	},
}

// DefaultPool returns the built-in template pool
func DefaultPool() *Pool {
	p, err := NewPool(defaultTemplates)
	if err != nil {
		panic(err)
	}
	return p
}
